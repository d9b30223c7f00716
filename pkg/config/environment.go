package config

const (
	// EnvIcatService overrides the catalogue service URL used when a command
	// is not given an explicit --service flag.
	EnvIcatService = "ICAT_SERVICE"
	// EnvIcatAuth carries login credentials as "plugin key=value ...",
	// e.g. "simple username=root password=secret".
	EnvIcatAuth = "ICAT_AUTH"
	// EnvIcatSchema overrides the schema version assumed when the service
	// does not report one (the mem driver, files).
	EnvIcatSchema = "ICAT_SCHEMA"
	// EnvIcatMirrors is the path of the mirror configuration document.
	EnvIcatMirrors = "ICAT_MIRRORS"
	// EnvIcatKeepPartial, when set, keeps partially written dump files
	// around after a failed dump instead of removing them.
	EnvIcatKeepPartial = "ICAT_KEEP_PARTIAL"
)

// NOTE: keep this up to date or the config loader won't load them
var envKeys = []string{
	EnvIcatService,
	EnvIcatAuth,
	EnvIcatSchema,
	EnvIcatMirrors,
	EnvIcatKeepPartial,
}
