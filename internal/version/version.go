package version

// Version is the semantic version of the localrag core.
const Version = "0.1.0"

func String() string { return "localrag " + Version }
