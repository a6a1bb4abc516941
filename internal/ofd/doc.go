// Package ofd adapts fiscal documents to the tax-data operator (OFD) wire
// protocol: request construction, the envelope codec, a length-framed TCP
// transport and the result-code rules shared by every delivery path.
package ofd
