package config

import (
	"strings"
	"unicode"
)

// EnvVarName converts a component env key to SCREAMING_SNAKE_CASE so config
// files may use camelCase or dash-case:
//   - "mqttBrokerUrl" → "MQTT_BROKER_URL"
//   - "mqtt-broker-url" → "MQTT_BROKER_URL"
//   - "MQTT_BROKER_URL" → "MQTT_BROKER_URL"
func EnvVarName(key string) string {
	words := splitWords(key)
	for i, w := range words {
		words[i] = strings.ToUpper(w)
	}
	return strings.Join(words, "_")
}

// NormalizeEnv returns env with every key passed through EnvVarName.
func NormalizeEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[EnvVarName(k)] = v
	}
	return out
}

// splitWords splits on '-', '_', ' ' and lower-to-upper case transitions.
func splitWords(s string) []string {
	var words []string
	var cur strings.Builder
	var prev rune

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case r == '-' || r == '_' || r == ' ':
			flush()
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
		prev = r
	}
	flush()
	return words
}
