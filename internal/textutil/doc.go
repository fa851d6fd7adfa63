// Package textutil provides filename sanitization for delivered files and
// workspace path segments.
//
// SanitizeFileName folds titles to ASCII through NFKD decomposition so that
// accented titles keep their base letters, then keeps only letters, digits,
// spaces, dots, dashes and underscores. SanitizeToken produces lowercase
// tokens for directory names derived from requester identities.
package textutil
