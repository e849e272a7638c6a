package netgate_test

import (
	"fmt"

	"github.com/microsearch/drivercapture/internal/netgate"
)

func ExampleIsSyncAllowed() {
	policy := netgate.NewPolicy([]string{"Depot-WiFi"}, true)

	fmt.Println(netgate.IsSyncAllowed(netgate.Status{WiFiActive: true, SSID: "Depot-WiFi"}, policy))
	fmt.Println(netgate.IsSyncAllowed(netgate.Status{WiFiActive: true, SSID: "depot-wifi"}, policy))
	fmt.Println(netgate.IsSyncAllowed(netgate.Status{WiredActive: true}, policy))
	fmt.Println(netgate.IsSyncAllowed(netgate.Status{}, policy))
	// Output:
	// true
	// false
	// true
	// false
}
