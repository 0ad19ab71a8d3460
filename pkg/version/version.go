package version

// Version is the current portalsync release.
const Version = "1.4.2"

// BuildVersion returns the version string for display.
func BuildVersion() string {
	return "portalsync version " + Version
}

// APIVersion returns just the version number for status responses.
func APIVersion() string {
	return Version
}
