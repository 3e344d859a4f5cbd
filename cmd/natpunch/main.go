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
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/nat-punch/metrics"
	"github.com/xtaci/nat-punch/netutil"
	"github.com/xtaci/nat-punch/punch"
	"github.com/xtaci/nat-punch/transport"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// Config is the flattened CLI/JSON configuration surface for this binary.
type Config struct {
	Server                    string `json:"server"`
	Local                     string `json:"local"`
	Peer                      string `json:"peer"`
	PortPredictions           int    `json:"portPredictions"`
	MaxPunchAttempts          int    `json:"maxPunchAttempts"`
	RetryDelayMs              int    `json:"retryDelayMs"`
	MaxResponseWaitTimeMs     int    `json:"maxResponseWaitTimeMs"`
	MaxServerResponseAttempts int    `json:"maxServerResponseAttempts"`
	Log                       string `json:"log"`
	Metrics                   string `json:"metrics"`
	MetricsPeriodSec          int    `json:"metricsPeriodSec"`
	Pprof                     bool   `json:"pprof"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(config)
}

func (c Config) toPunchConfig() punch.Config {
	cfg := punch.DefaultConfig()
	if c.PortPredictions > 0 {
		cfg.PortPredictions = c.PortPredictions
	}
	if c.MaxPunchAttempts > 0 {
		cfg.MaxPunchAttempts = c.MaxPunchAttempts
	}
	if c.RetryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(c.RetryDelayMs) * time.Millisecond
	}
	if c.MaxResponseWaitTimeMs > 0 {
		cfg.MaxResponseWaitTime = time.Duration(c.MaxResponseWaitTimeMs) * time.Millisecond
	}
	if c.MaxServerResponseAttempts > 0 {
		cfg.MaxServerResponseAttempts = c.MaxServerResponseAttempts
	}
	return cfg
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "server",
			Usage: `rendezvous server address, eg: "198.51.100.1:9000"`,
		},
		cli.StringFlag{
			Name:  "local,l",
			Value: ":0",
			Usage: "local bind address; port 0 requests an ephemeral port",
		},
		cli.IntFlag{
			Name:  "predictions",
			Value: 8,
			Usage: "size of the port-prediction window",
		},
		cli.IntFlag{
			Name:  "maxpunchattempts",
			Value: 8,
			Usage: "outer burst attempts per ConnectTo",
		},
		cli.IntFlag{
			Name:  "retrydelay",
			Value: 1000,
			Usage: "inter-attempt sleep, in milliseconds",
		},
		cli.IntFlag{
			Name:  "maxresponsewait",
			Value: 5000,
			Usage: "connector per-attempt inbound wait budget, in milliseconds",
		},
		cli.IntFlag{
			Name:  "maxserverresponseattempts",
			Value: 20,
			Usage: "connector's bound on ignored inbound packets before giving up on ConnectTo",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "metrics",
			Usage: "collect punch metrics to file, aware of timeformat in golang, like: ./metrics-20060102.csv",
		},
		cli.IntFlag{
			Name:  "metricsperiod",
			Value: 60,
			Usage: "metrics collection period, in seconds",
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
}

func configFromContext(c *cli.Context) Config {
	cfg := Config{
		Server:                    c.String("server"),
		Local:                     c.String("local"),
		PortPredictions:           c.Int("predictions"),
		MaxPunchAttempts:          c.Int("maxpunchattempts"),
		RetryDelayMs:              c.Int("retrydelay"),
		MaxResponseWaitTimeMs:     c.Int("maxresponsewait"),
		MaxServerResponseAttempts: c.Int("maxserverresponseattempts"),
		Log:                       c.String("log"),
		Metrics:                   c.String("metrics"),
		MetricsPeriodSec:          c.Int("metricsperiod"),
		Pprof:                     c.Bool("pprof"),
	}
	if c.String("c") != "" {
		checkError(parseJSONConfig(&cfg, c.String("c")))
	}
	return cfg
}

func setupProcess(cfg Config) *metrics.Counters {
	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		log.SetOutput(f)
	}
	if cfg.Pprof {
		go http.ListenAndServe(":6060", nil)
	}

	counters := &metrics.Counters{}
	go metrics.Logger(cfg.Metrics, time.Duration(cfg.MetricsPeriodSec)*time.Second, counters)
	return counters
}

func dumpConfig(cfg Config, punchCfg punch.Config) {
	log.Println("version:", VERSION)
	log.Println("server:", cfg.Server)
	log.Println("local:", cfg.Local)
	log.Println("portPredictions:", punchCfg.PortPredictions)
	log.Println("maxPunchAttempts:", punchCfg.MaxPunchAttempts)
	log.Println("retryDelay:", punchCfg.RetryDelay)
	log.Println("maxResponseWaitTime:", punchCfg.MaxResponseWaitTime)
	log.Println("maxServerResponseAttempts:", punchCfg.MaxServerResponseAttempts)
	log.Println("metrics:", cfg.Metrics)
	log.Println("pprof:", cfg.Pprof)

	if punchCfg.PortPredictions < 1 {
		color.Red("WARNING: portPredictions < 1 is meaningless; no ports would ever be punched.")
	}
	if punchCfg.MaxResponseWaitTime < 1000*time.Millisecond && punchCfg.PortPredictions > 1 {
		color.Red("WARNING: maxresponsewait is very small relative to the prediction window; symmetric-NAT adaptation may never get a chance to fire.")
	}
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "natpunch"
	app.Usage = "UDP hole punching Connector/Listener client"
	app.Version = VERSION

	app.Commands = []cli.Command{
		{
			Name:  "listen",
			Usage: "run as a Listener, serving peers until interrupted",
			Flags: commonFlags(),
			Action: func(c *cli.Context) error {
				cfg := configFromContext(c)
				counters := setupProcess(cfg)
				punchCfg := cfg.toPunchConfig()
				dumpConfig(cfg, punchCfg)

				server, err := netutil.ParseEndpoint(cfg.Server)
				checkError(err)
				local, err := netutil.ParseEndpoint(resolveLocal(cfg.Local))
				checkError(err)

				s := punch.NewListener(punchCfg, transport.NewUDPTransport(), server, false, counters)
				return s.ListenForPunches(local)
			},
		},
		{
			Name:  "listen-once",
			Usage: "run as a ListenerSingle, returning after the first successful punch",
			Flags: commonFlags(),
			Action: func(c *cli.Context) error {
				cfg := configFromContext(c)
				counters := setupProcess(cfg)
				punchCfg := cfg.toPunchConfig()
				dumpConfig(cfg, punchCfg)

				server, err := netutil.ParseEndpoint(cfg.Server)
				checkError(err)
				local, err := netutil.ParseEndpoint(resolveLocal(cfg.Local))
				checkError(err)

				s := punch.NewListener(punchCfg, transport.NewUDPTransport(), server, true, counters)
				peer, err := s.ListenForSinglePunch(local)
				checkError(err)
				printResult(peer)
				return nil
			},
		},
		{
			Name:  "connect",
			Usage: "run as a Connector against --peer",
			Flags: append(commonFlags(), cli.StringFlag{
				Name:  "peer",
				Usage: "target peer IPv4 address",
			}),
			Action: func(c *cli.Context) error {
				cfg := configFromContext(c)
				if cfg.Peer == "" {
					cfg.Peer = c.String("peer")
				}
				counters := setupProcess(cfg)
				punchCfg := cfg.toPunchConfig()
				dumpConfig(cfg, punchCfg)

				server, err := netutil.ParseEndpoint(cfg.Server)
				checkError(err)
				local, err := netutil.ParseEndpoint(resolveLocal(cfg.Local))
				checkError(err)
				peerIP := net.ParseIP(cfg.Peer)
				if peerIP == nil {
					checkError(fmt.Errorf("connect: %q is not a valid IPv4 address", cfg.Peer))
				}

				s := punch.NewConnector(punchCfg, transport.NewUDPTransport(), server, counters)
				peer, err := s.Punch(local, peerIP)
				checkError(err)
				printResult(peer)
				return nil
			},
		},
	}

	checkError(app.Run(os.Args))
}

// resolveLocal turns a bare ":0"-style bind string into something
// net.SplitHostPort/LookupIP can resolve without an explicit host.
func resolveLocal(local string) string {
	if local == "" {
		return "0.0.0.0:0"
	}
	if local[0] == ':' {
		return "0.0.0.0" + local
	}
	return local
}

func printResult(peer *net.UDPAddr) {
	if peer == nil {
		log.Println("punch: no peer endpoint established")
		os.Exit(1)
	}
	log.Println("punch: established peer endpoint:", peer)
	fmt.Println(peer.String())
}
