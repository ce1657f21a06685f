// Package decode parses one SSE-family instruction from a fixed window of
// bytes copied from the faulting instruction pointer.
//
// Only the escape maps 0F 38 and 0F 3A, plus 0F B8 in its register form,
// are recognized. Addresses are computed from the copied window and the
// saved registers; memory is never read during decode. Anything the
// decoder does not recognize is reported as a failure with length -1 so
// the caller can treat the instruction as unhandled.
package decode
