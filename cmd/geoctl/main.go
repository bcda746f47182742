// Command geoctl resolves positions, public IPs and addresses from the command
// line using the same provider chains as the geoposition service.
package main

func main() {
	Execute()
}
