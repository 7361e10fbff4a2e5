package waf

import "runtime"

// Version is the engine release.
const Version = "0.4.0"

// Info identifies the engine. Fields are only ever appended.
func Info() string {
	return "Veil v" + Version + " (" + platform(runtime.GOOS) + ")"
}

func platform(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "darwin":
		return "MacOSX"
	case "freebsd":
		return "FreeBSD"
	case "openbsd":
		return "OpenBSD"
	case "netbsd":
		return "NetBSD"
	case "windows":
		return "Windows"
	case "solaris", "illumos":
		return "Solaris"
	case "aix":
		return "AIX"
	default:
		return "Unknown platform"
	}
}
