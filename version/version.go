package version

var Version string = "dev"
