// Package wire implements the campus equipment wire protocol message
// format.
//
// A message body is a UTF-8 string of pipe-separated fields:
//
//	CLIENT_TYPE '|' KIND '|' SUBJECT ( '|' FIELD )*
//
// Field 0 is the numeric client type tag (1 = equipment simulator,
// 2 = operator console). Field 1 is the numeric message kind tag
// (1..200). Field 2 is the subject: a device id for equipment
// messages, a user or place id for operator messages, or one of the
// sentinels "all" and "response". Everything after the third separator
// is kind-specific payload and is NOT re-split by the codec: several
// kinds embed semicolon-separated record lists whose inner pipes must
// be preserved verbatim when forwarded.
//
// There is no escaping. Free-form text fields (reservation purpose,
// error reasons) must not contain '|'.
//
// Framing (the 4-byte big-endian length prefix) is handled by package
// transport; this package deals only in bodies.
package wire
