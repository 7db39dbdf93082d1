// Package registry binds stable display indices to physical DDC/CI
// displays.
//
// Indices come from configuration and never change during a run. Each
// Refresh re-enumerates the bus and rebinds indices, by EDID serial when
// one is configured and by bus position otherwise. A display whose
// position is no longer enumerated becomes unavailable; its index is kept
// and never handed to another monitor.
//
// The registry is the only owner of hardware handles. Callers borrow a
// handle through a Lease:
//
//	lease, err := reg.Acquire(ctx, 0)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//	h, ok := lease.Handle()
//
// Holding the lease serialises all hardware access and state mutation for
// that display. Different displays are independent.
package registry
