// Command rdpd-handover builds the fields of a server redirection (the
// UTF-16 username and domain, the redirection GUID, and an optional target
// certificate container) for a given target, prints a summary of them and
// exits. It sends no PDU itself. Kept as a separate short-lived process
// rather than a subcommand of rdpd itself so it can run with a narrower set
// of privileges than the daemon.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lanternops/rdpd/internal/session"
	"github.com/lanternops/rdpd/internal/tlscred"
)

func main() {
	var (
		netAddress string
		username   string
		domain     string
		certPath   string
		keyPath    string
	)
	flag.StringVar(&netAddress, "target", "", "redirection target address, host:port")
	flag.StringVar(&username, "username", "", "username to pre-fill on the redirected client")
	flag.StringVar(&domain, "domain", "", "domain to pre-fill on the redirected client")
	flag.StringVar(&certPath, "cert", "", "PEM certificate of the redirection target, optional")
	flag.StringVar(&keyPath, "key", "", "PEM key of the redirection target, optional")
	flag.Parse()

	if netAddress == "" {
		fmt.Fprintln(os.Stderr, "rdpd-handover: -target is required")
		os.Exit(2)
	}

	target := session.RedirectionTarget{
		NetAddress: netAddress,
		Username:   username,
		Domain:     domain,
	}

	if certPath != "" && keyPath != "" {
		creds, err := tlscred.LoadPEM(certPath, keyPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "rdpd-handover:", err)
			os.Exit(1)
		}
		target.Certificate = tlscred.BuildContainer(creds)
	}

	username16, domain16, guid := session.BuildRedirectionPDUFields(target)
	fmt.Printf("redirecting to %s: username=%d bytes domain=%d bytes guid=%x\n",
		target.NetAddress, len(username16), len(domain16), guid)

	// This process neither connects to the client nor talks to the running
	// rdpd's control socket (internal/dispatch), which answers only
	// "status"; no Server Redirection PDU is sent from here.
}
