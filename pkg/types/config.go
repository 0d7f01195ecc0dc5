package types

// Config is the application configuration assembled by internal/config from
// JSONC files, .env, and environment variables.
type Config struct {
	// DataDir holds the SQLite database. Defaults under the user data dir.
	DataDir string `json:"dataDir,omitempty"`

	// ContentRoot is the directory of per-topic language notes. It is
	// expected to be a git repository for the commit handshake to run.
	ContentRoot string `json:"contentRoot,omitempty"`

	// Agent is the argv used to spawn the external agent process.
	Agent []string `json:"agent,omitempty"`

	// Instructions is an optional YAML file overriding the built-in
	// priming/wrap-up instruction templates.
	Instructions string `json:"instructions,omitempty"`

	// GitRemote is the remote pushed to after a commit. Empty disables push.
	GitRemote string `json:"gitRemote,omitempty"`

	// TargetLanguage is the initial value of the target-language mode flag.
	TargetLanguage bool `json:"targetLanguage,omitempty"`

	// LogLevel is parsed by internal/logging (DEBUG..FATAL).
	LogLevel string `json:"logLevel,omitempty"`
}
