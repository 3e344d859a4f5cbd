// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/xtaci/nat-punch/netutil"
	"github.com/xtaci/nat-punch/rendezvous"
	"github.com/xtaci/nat-punch/transport"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// Config is the flattened CLI/JSON configuration surface for this binary.
type Config struct {
	Listen   string `json:"listen"`
	GraceSec int    `json:"graceSec"`
	Log      string `json:"log"`
	Pprof    bool   `json:"pprof"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(config)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "rendezvousd"
	app.Usage = "reference rendezvous server pairing Connectors with Listeners"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: ":9000",
			Usage: "address to bind, eg: \":9000\"; a span like \"0.0.0.0:9000-9010\" is accepted, but only its first port is bound",
		},
		cli.IntFlag{
			Name:  "grace",
			Value: 10,
			Usage: "seconds a Connector's registration waits for a matching Listener",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "config from json file, which will override the command from shell",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
	}

	app.Action = func(c *cli.Context) error {
		cfg := Config{
			Listen:   c.String("listen"),
			GraceSec: c.Int("grace"),
			Log:      c.String("log"),
			Pprof:    c.Bool("pprof"),
		}
		if c.String("c") != "" {
			checkError(parseJSONConfig(&cfg, c.String("c")))
		}

		if cfg.Log != "" {
			f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			log.SetOutput(f)
		}
		if cfg.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		log.Println("version:", VERSION)
		log.Println("listen:", cfg.Listen)
		log.Println("grace:", cfg.GraceSec, "seconds")

		pr, err := netutil.ParsePortRange(cfg.Listen)
		checkError(err)

		local, err := resolveBind(pr.Host, pr.Min)
		checkError(err)

		srv := rendezvous.New(transport.NewUDPTransport(), time.Duration(cfg.GraceSec)*time.Second)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			log.Println("rendezvousd: shutting down")
			srv.Close()
		}()

		return srv.Run(local)
	}

	checkError(app.Run(os.Args))
}

func resolveBind(host string, port int) (*net.UDPAddr, error) {
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, err
		}
		for _, candidate := range ips {
			if v4 := candidate.To4(); v4 != nil {
				ip = v4
				break
			}
		}
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}
