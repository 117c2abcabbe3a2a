package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"modelado.dev/realtime"
)

const ModelCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Modelado control.

The default urls are:
    api_url: https://api.modelado.dev
    connect_url: wss://connect.modelado.dev/realtime

Usage:
    modelctl login [--api_url=<api_url>]
        --email=<email>
        [--password=<password>]
    modelctl whoami --jwt=<jwt>
    modelctl model [--api_url=<api_url>] --jwt=<jwt>
        --project=<project_id>
    modelctl watch [--connect_url=<connect_url>] --jwt=<jwt>
        --project=<project_id>
        [--event_count=<event_count>]

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --api_url=<api_url>
    --connect_url=<connect_url>
    --email=<email>
    --password=<password>
    --jwt=<jwt>                  Your platform JWT.
    --project=<project_id>       Project to join.
    --event_count=<event_count>  Print this many events then exit.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ModelCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(opts)
	} else if model_, _ := opts.Bool("model"); model_ {
		model(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		return apiUrl
	}
	return "https://api.modelado.dev"
}

func connectUrl(opts docopt.Opts) string {
	if connectUrl, err := opts.String("--connect_url"); err == nil && connectUrl != "" {
		return connectUrl
	}
	return "wss://connect.modelado.dev/realtime"
}

// log in and print the jwt
func login(opts docopt.Opts) {
	email, _ := opts.String("--email")

	var password string
	if password_, err := opts.String("--password"); err == nil && password_ != "" {
		password = password_
	} else {
		fmt.Print("Enter password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		password = string(passwordBytes)
		fmt.Printf("\n")
	}

	api := realtime.NewModeladoApi(apiUrl(opts))
	result, err := api.AuthLoginSync(&realtime.AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		Err.Printf("Login failed (%s).\n", err)
		os.Exit(1)
	}

	Out.Printf("%s", result.AccessToken)
}

func whoami(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")

	byJwt, err := realtime.ParseByJwtUnverified(jwt)
	if err != nil {
		Err.Printf("Invalid jwt (%s).\n", err)
		os.Exit(1)
	}

	Out.Printf("user_id: %s", byJwt.UserId)
	Out.Printf("user_name: %s", byJwt.UserName)
	Out.Printf("email: %s", byJwt.Email)
}

// dump the authoritative snapshot
func model(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")
	projectIdStr, _ := opts.String("--project")

	projectId, err := realtime.ParseId(projectIdStr)
	if err != nil {
		Err.Printf("Invalid project (%s).\n", err)
		os.Exit(1)
	}

	byJwt, err := realtime.ParseByJwtUnverified(jwt)
	if err != nil {
		Err.Printf("Invalid jwt (%s).\n", err)
		os.Exit(1)
	}

	api := realtime.NewModeladoApi(apiUrl(opts))
	api.SetByJwt(jwt)

	snapshot, err := api.GetDomainModelSync(projectId, byJwt.UserId)
	if err != nil {
		Err.Printf("Snapshot fetch failed (%s).\n", err)
		os.Exit(1)
	}

	snapshotJson, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		panic(err)
	}
	Out.Printf("%s", snapshotJson)
}

// join the project room and print events as they arrive.
// the connection manager does not retry on its own; this loop is the
// caller-driven reconnect the engine expects its holder to run.
func watch(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")
	projectIdStr, _ := opts.String("--project")

	eventCount := -1
	if eventCount_, err := opts.Int("--event_count"); err == nil {
		eventCount = eventCount_
	}

	projectId, err := realtime.ParseId(projectIdStr)
	if err != nil {
		Err.Printf("Invalid project (%s).\n", err)
		os.Exit(1)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := realtime.NewConnectionManagerWithDefaults(cancelCtx, connectUrl(opts), projectId)
	defer manager.Close()

	modelSync := realtime.NewModelSync(cancelCtx)
	defer modelSync.Close()
	defer modelSync.Subscribe(manager)()

	tracker := realtime.NewPresenceTrackerWithDefaults(cancelCtx, manager)
	defer tracker.Close()

	events := make(chan string, 64)

	modelSync.AddSnapshotCallback(func(snapshot *realtime.ModelSnapshot) {
		events <- fmt.Sprintf("model: %d classes, %d relations", len(snapshot.Classes), len(snapshot.Relations))
	})
	tracker.AddPresenceCallback(func(entries []*realtime.PresenceEntry) {
		events <- fmt.Sprintf("presence: %d active", len(entries))
	})

	disconnected := make(chan struct{}, 1)
	manager.AddStateCallback(func(state realtime.ConnectionState) {
		Err.Printf("connection: %s", state)
		if state == realtime.ConnectionStateDisconnected {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		}
	})

	auth := &realtime.ClientAuth{
		ByJwt:      jwt,
		AppVersion: fmt.Sprintf("modelctl %s", ModelCtlVersion),
	}

	connect := func() {
		for {
			if _, err := manager.Connect(auth); err == nil {
				return
			}
			Err.Printf("connect failed, retrying")
			select {
			case <-cancelCtx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}

	connect()

	printed := 0
	for {
		select {
		case <-cancelCtx.Done():
			return
		case <-disconnected:
			connect()
		case event := <-events:
			Out.Printf("%s", event)
			printed += 1
			if 0 <= eventCount && eventCount <= printed {
				return
			}
		}
	}
}
