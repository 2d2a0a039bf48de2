package cliutil

import "regexp"

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)

	// Sensitive values travel through this program in KEY=VALUE or
	// KEY: VALUE shape: echoed spawn command lines, manifest env maps and
	// env-file contents. Rather than enumerating providers, any key whose
	// name ends in a sensitive class is masked, so AWS_SECRET_ACCESS_KEY,
	// CI_DEPLOY_TOKEN and REGISTRY_PASSWORD are all caught by their
	// suffix alone.
	secretKeyPattern = regexp.MustCompile(`(?i)\b([A-Za-z0-9_]*(?:SECRET|TOKEN|PASSWORD|PASSPHRASE|API_KEY|ACCESS_KEY|PRIVATE_KEY|CREDENTIALS))\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
)

// RedactSecrets masks secret material in a string destined for user-facing
// output. ${VAR} template references are replaced wholesale, and the value
// of any assignment whose key matches a sensitive suffix class is replaced
// while the key and quoting are kept intact.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := templateVarPattern.ReplaceAllStringFunc(message, func(string) string {
		return "${" + redactedPlaceholder + "}"
	})
	return secretKeyPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
}
