package validation

// MaxBodySize caps JSON request bodies (64 KB). Vault requests are a few hundred
// bytes.
const MaxBodySize = 64 * 1024
