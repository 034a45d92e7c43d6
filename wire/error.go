package wire

// errorKey marks a map value as the distinguished error representation.
// Error results cross the boundary as this tagged shape, never as a raw
// exception.
const errorKey = "$error"

// ErrorValue builds the distinguished error value carrying a stable
// error-kind string and a human-readable message.
func ErrorValue(kind, message string) Value {
	return MapOf(Pair(errorKey, MapOf(
		Pair("kind", String(kind)),
		Pair("message", String(message)),
	)))
}

// AsError recognizes the distinguished error shape and extracts its fields.
func AsError(v Value) (kind, message string, ok bool) {
	inner, found := v.Get(errorKey)
	if !found || v.Len() != 1 {
		return "", "", false
	}
	kv, _ := inner.Get("kind")
	mv, _ := inner.Get("message")
	kind, kok := kv.Text()
	message, mok := mv.Text()
	if !kok || !mok {
		return "", "", false
	}
	return kind, message, true
}
