// fugu-cli is an interactive console for a fugu power-converter board.
//
// Connect over serial or TCP (or discover boards on the LAN), then
// type commands; anything unrecognized is passed through to the board
// verbatim.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"

	"github.com/fugu-mppt/fugu-go/discover"
	"github.com/fugu-mppt/fugu-go/fugu"
	"github.com/fugu-mppt/fugu-go/helpers"
	"github.com/fugu-mppt/fugu-go/helpers/cli"
	"github.com/fugu-mppt/fugu-go/log2"
	"github.com/fugu-mppt/fugu-go/state"
	"github.com/fugu-mppt/fugu-go/tele"
)

const usage = `commands:
- state            show pwm state, voltages, temperatures, rssi
- dc N             write duty cycle N directly (no ramp)
- ramp N           ramp duty cycle to N in clamped steps
- manual | mppt    hold current duty cycle / return to MPPT tracker
- sync 0|1|forced  synchronous rectification
- bf on|off        ideal diode (backflow MOSFET)
- wifi on|off      board radio power
- conf FILE KEY    read persisted config value, e.g. conf net ssid
- rig N            buck power-loop rig sequence up to duty cycle N
- wait             wait for fresh telemetry
- help
anything else is sent to the board as-is
`

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := cmdline.String("config", "", "HCL config file (overrides other flags)")
	devicePath := cmdline.String("device", "", "serial port, supports glob pattern")
	addr := cmdline.String("ip", "", "board address host[:port]")
	doDiscover := cmdline.Bool("discover", false, "find a board via mDNS")
	verbose := cmdline.Bool("verbose", false, "echo every console line")
	_ = cmdline.Parse(os.Args[1:])

	log := log2.NewStderr(log2.LInfo)
	log.SetFlags(log2.LInteractiveFlags)
	if *verbose {
		log.SetLevel(log2.LDebug)
	}

	var opt fugu.Options
	var teleOpt tele.Options
	switch {
	case *configPath != "":
		cfg := state.MustReadConfigFile(log, *configPath)
		var err error
		if opt, err = cfg.DeviceOptions(); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		if cfg.Tele.Enable {
			teleOpt = tele.Options{
				BrokerURL:   cfg.Tele.Broker,
				TopicPrefix: cfg.Tele.TopicPrefix,
				Log:         log,
			}
		}
	case *doDiscover:
		boards, err := discover.Scopes(context.Background(), 1, discover.DefaultTimeout, log)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		if len(boards) == 0 {
			log.Fatal("no boards found")
		}
		log.Infof("discovered %s host=%s", boards[0].Addr(), boards[0].Host)
		opt.Addr = boards[0].Addr()
	case *addr != "":
		opt.Addr = *addr
	case *devicePath != "":
		opt.SerialPort = *devicePath
	default:
		log.Fatal("need one of -config, -device, -ip, -discover")
	}
	opt.Log = log
	opt.Verbose = opt.Verbose || *verbose

	if teleOpt.BrokerURL != "" {
		tc, err := tele.NewClient(teleOpt)
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		defer tc.Close()
		opt.OnMessage = tc.HandleLine
	}

	log.Infof("waiting for first telemetry ..")
	dev, err := fugu.NewDevice(opt)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	defer dev.Close()
	log.Infof("connected, type help for commands")

	cli.MainLoop(newExecutor(dev, log), completer)
}

func newExecutor(dev *fugu.Device, log *log2.Log) func(string) {
	return func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		if err := execute(dev, log, line); err != nil {
			log.Errorf("%s", errors.ErrorStack(err))
		}
	}
}

func execute(dev *fugu.Device, log *log2.Log, line string) error {
	words := strings.Fields(line)
	switch words[0] {
	case "help":
		log.Infof(usage)
		return nil

	case "state":
		s := dev.PwmState()
		vin, vout := dev.Voltages()
		ntc, mcu := dev.Temperatures()
		fmt.Printf("mode=%s pwm=%d|%d|%d V=%s/%s T=%s/%s rssi=%d\n",
			s.Mode, s.Ctrl, s.Sync, s.SyncMax,
			helpers.NumString(vin, 4), helpers.NumString(vout, 4),
			helpers.NumString(ntc, 3), helpers.NumString(mcu, 3),
			dev.RSSI())
		return nil

	case "dc":
		n, err := argInt(words, 1)
		if err != nil {
			return err
		}
		return dev.Write(fmt.Sprintf("dc %d\n", n))

	case "ramp":
		n, err := argInt(words, 1)
		if err != nil {
			return err
		}
		return dev.SetD(n)

	case "manual":
		return dev.ManualPWM(true)
	case "mppt":
		return dev.ManualPWM(false)

	case "sync":
		if len(words) < 2 {
			return errors.NotValidf("sync 0|1|forced")
		}
		switch words[1] {
		case "forced":
			return dev.SyncRectEnable(fugu.SyncForced)
		case "1":
			return dev.SyncRectEnable(fugu.SyncOn)
		case "0":
			return dev.SyncRectEnable(fugu.SyncOff)
		}
		return errors.NotValidf("sync 0|1|forced")

	case "bf":
		if len(words) < 2 {
			return errors.NotValidf("bf on|off")
		}
		return dev.IdealDiodeEnable(words[1] == "on")

	case "wifi":
		if len(words) < 2 {
			return errors.NotValidf("wifi on|off")
		}
		return dev.WifiPower(words[1] == "on")

	case "conf":
		if len(words) < 3 {
			return errors.NotValidf("conf FILE KEY")
		}
		v, ok, err := dev.ConfValue(words[1], words[2])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("conf %s:%s not found\n", words[1], words[2])
			return nil
		}
		fmt.Printf("conf %s:%s = %q\n", words[1], words[2], v)
		return nil

	case "rig":
		n, err := argInt(words, 1)
		if err != nil {
			return err
		}
		return dev.RigSequenceBuck(n)

	case "wait":
		dev.WaitForPwmState()
		return nil
	}

	// raw passthrough
	return dev.Write(line + "\n")
}

func argInt(words []string, i int) (int, error) {
	if len(words) <= i {
		return 0, errors.NotValidf("%s needs a number", words[0])
	}
	n, err := strconv.Atoi(words[i])
	return n, errors.Annotatef(err, "%s argument", words[0])
}

func completer(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "state", Description: "show device state"},
		{Text: "dc", Description: "write duty cycle directly"},
		{Text: "ramp", Description: "ramp duty cycle in steps"},
		{Text: "manual", Description: "hold current duty cycle"},
		{Text: "mppt", Description: "return to MPPT tracker"},
		{Text: "sync", Description: "synchronous rectification 0|1|forced"},
		{Text: "bf", Description: "ideal diode on|off"},
		{Text: "wifi", Description: "board radio on|off"},
		{Text: "conf", Description: "read persisted config value"},
		{Text: "rig", Description: "buck rig bring-up sequence"},
		{Text: "wait", Description: "wait for fresh telemetry"},
		{Text: "help", Description: "show commands"},
	}
	return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
}
