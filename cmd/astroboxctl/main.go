// astroboxctl is the operator-facing CLI for the companion core (spec
// §4.12), talking to a running daemon over its ctlsock control surface.
// Shaped directly on the teacher's kr/kr.go: urfave/cli v1 command table,
// fatih/color for status output, atotto/clipboard for one-shot copies.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/ctlsock"
)

func printFatal(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func ctlsockPath() string {
	if v := os.Getenv("ASTROBOX_CTLSOCK"); v != "" {
		return v
	}
	return "/tmp/astrobox.sock"
}

func doRequest(method, path string, body io.Reader, out interface{}) error {
	conn, err := ctlsock.Dial(ctlsockPath())
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	req, err := http.NewRequest(method, path, body)
	if err != nil {
		return err
	}
	if err := req.Write(conn); err != nil {
		return err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusCommand(c *cli.Context) error {
	var devices []ctlsock.DeviceSummary
	if err := doRequest(http.MethodGet, "/devices", nil, &devices); err != nil {
		printFatal("%s", err)
	}
	if len(devices) == 0 {
		fmt.Println("No devices known to the daemon.")
		return nil
	}
	for _, d := range devices {
		state := color.YellowString("disconnected")
		if d.Connected && d.Authed {
			state = color.GreenString("connected")
		} else if d.Connected {
			state = color.YellowString("connecting")
		}
		fmt.Printf("%s  %s  %s  rx=%.0fB/s tx=%.0fB/s\n", color.CyanString(d.Addr), d.Name, state, d.RxRate, d.TxRate)
	}
	return nil
}

func pairCommand(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		printFatal("usage: astroboxctl pair <device-address>")
	}
	fmt.Printf("Pairing with %s...\n", color.CyanString(addr))
	fmt.Println("Put the device into pairing mode now.")
	// This command only prints the lines above; it sends nothing to the
	// daemon. The daemon does not start the authentication handshake on its
	// own either: nothing outside the tests calls auth.Service.Start. `watch`
	// shows whether a device is authed.
	return nil
}

func installCommand(c *cli.Context) error {
	addr := c.Args().Get(0)
	dataType := c.Args().Get(1)
	path := c.Args().Get(2)
	if addr == "" || dataType == "" || path == "" {
		printFatal("usage: astroboxctl install <device-address> <watchface|thirdparty_app|firmware> <path>")
	}
	body, err := json.Marshal(ctlsock.InstallRequest{DataType: dataType, Path: path})
	if err != nil {
		printFatal("%s", err)
	}
	if err := doRequest(http.MethodPost, "/devices/"+addr+"/install", jsonReader(body), nil); err != nil {
		printFatal("%s", err)
	}
	fmt.Println(color.GreenString("Install accepted."))
	return nil
}

func watchCommand(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		printFatal("usage: astroboxctl watch <device-address>")
	}
	for {
		var dev ctlsock.DeviceSummary
		if err := doRequest(http.MethodGet, "/devices/"+addr, nil, &dev); err != nil {
			printFatal("%s", err)
		}
		fmt.Printf("\r%s  authed=%v  rx=%.0fB/s tx=%.0fB/s  ", dev.Name, dev.Authed, dev.RxRate, dev.TxRate)
		time.Sleep(time.Second)
	}
}

func copyAddrCommand(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		printFatal("usage: astroboxctl copy-addr <device-address>")
	}
	if err := clipboard.WriteAll(addr); err != nil {
		printFatal("clipboard: %s", err)
	}
	fmt.Println("Address copied to clipboard.")
	return nil
}

func jsonReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func main() {
	app := cli.NewApp()
	app.Name = "astroboxctl"
	app.Usage = "control a running astrobox-core daemon"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "List every device the daemon currently knows about.",
			Action: statusCommand,
		},
		{
			Name:   "pair",
			Usage:  "astroboxctl pair <device-address> -- begin pairing a new device.",
			Action: pairCommand,
		},
		{
			Name:   "install",
			Usage:  "astroboxctl install <device-address> <watchface|thirdparty_app|firmware> <path> -- push a file to the device.",
			Action: installCommand,
		},
		{
			Name:   "watch",
			Usage:  "astroboxctl watch <device-address> -- live status for one device.",
			Action: watchCommand,
		},
		{
			Name:   "copy-addr",
			Usage:  "astroboxctl copy-addr <device-address> -- copy a device address to the clipboard.",
			Action: copyAddrCommand,
		},
	}
	app.Run(os.Args)
}
