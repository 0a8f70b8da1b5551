package config

import "github.com/go-viper/mapstructure/v2"

// DecodeOptions copies the options map of a transform or plugin declaration
// into a typed struct. Scalars are weakly converted the way viper does, and
// unknown keys are rejected so a misspelled option fails at load time.
func DecodeOptions(options map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}
