// Package vcp translates between raw MCCS VCP feature values and the
// symbolic names published on the bus.
//
// Each display owns a Codec built once from configuration. A Codec holds one
// Entry per feature it supports; an Entry pairs the VCP code with an
// OptionTable mapping names to raw values. Decoding is total: a raw value
// missing from the table decodes to the entry's fallback symbol (Unknown
// unless configured). Encoding rejects any symbol outside the table.
//
//	codec, err := vcp.NewCodec(
//	    vcp.Entry{Feature: vcp.FeatureInput, Code: vcp.CodeInputSource, Options: inputs},
//	)
//	raw, err := codec.Encode(vcp.FeatureInput, "HDMI")   // 17
//	name, _ := codec.Decode(vcp.FeatureInput, 15)        // "DisplayPort"
package vcp
