package errors

// Conversion between ProtocolError and the wire-level error object shape.
// The protocol package defines the wire struct; to avoid an import cycle the
// conversion here works on the raw (code, message, data) triple.

// ToWire flattens an error into the JSON-RPC error object fields. Errors that
// carry a local-only diagnostic code are reported as internal errors so that
// implementation details never leak onto the wire.
func ToWire(err error) (code int, message string, data interface{}) {
	if err == nil {
		return CodeInternalError, "unknown error", nil
	}

	pe, ok := AsProtocolError(err)
	if !ok {
		return CodeInternalError, err.Error(), nil
	}

	code = pe.Code()
	if !IsWireCode(code) {
		code = CodeInternalError
	}
	return code, pe.Message(), pe.Data()
}

// FromWire reconstructs a ProtocolError from a received error object. The
// category and severity are derived from the code registry.
func FromWire(code int, message string, data interface{}) ProtocolError {
	category := CategoryProtocol
	severity := SeverityError
	if info, exists := GetErrorCodeInfo(code); exists {
		category = info.Category
		severity = info.Severity
	}

	err := New(code, message, category, severity)
	if data != nil {
		err = err.WithData(data)
	}
	return err
}
