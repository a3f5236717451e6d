//go:build !linux && !darwin

package netmon

func defaultRouteInterface() string {
	return ""
}
