//go:build darwin

package netmon

func defaultRouteInterface() string {
	return defaultRouteInterfaceDarwin()
}
