// Package config loads the configuration of Edulure runtime processes.
//
// Configuration is built in layers. Defaults come first, then each YAML file
// added with AddLayer, then EDULURE_* environment variables. Dotenv files
// added with AddEnvFile are read into the environment before the overrides are
// applied, without replacing variables that are already set.
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/production.yaml") // Overrides base
//	loader.AddEnvFile(".env")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Validation checks the merged result against an embedded JSON schema and then
// applies the rules in Config.Validate. Validation errors are invalid-class
// errors from the errors package, so callers can tell them apart from I/O
// failures with errors.IsInvalid.
//
// Infrastructure components whose connection URL is left empty are reported as
// disabled at startup rather than failing the process.
package config
