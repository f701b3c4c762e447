package devalue

import "errors"

// ErrorTag is the reducer/reviver tag used by ErrorReducer and
// ErrorReviver below.
const ErrorTag = "Error"

// ErrorReducer returns a reducer set that flattens any Go error to its
// message string under ErrorTag. Pass it to WithReducers when a stream may
// carry Future or Sequence failures that the other side should be able to
// reconstruct as errors rather than opaque struct payloads; pair it with
// ErrorReviver on the decode side.
func ErrorReducer() map[string]Reducer {
	return map[string]Reducer{
		ErrorTag: func(v any) (any, bool) {
			err, ok := v.(error)
			if !ok {
				return nil, false
			}
			return err.Error(), true
		},
	}
}

// ErrorReviver returns a reviver set that reconstructs a plain error from
// the message string ErrorReducer produced. The reconstructed error loses
// any concrete type the sender had.
func ErrorReviver() map[string]Reviver {
	return map[string]Reviver{
		ErrorTag: func(payload any) (any, error) {
			msg, _ := payload.(string)
			return errors.New(msg), nil
		},
	}
}
