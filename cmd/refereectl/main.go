package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	sdk "github.com/refereehq/referee/sdk/client"
	"github.com/spf13/cobra"
)

const defaultGateway = "http://localhost:8081"

// errInvalid marks a command that ran but found validation errors; the
// report has already been printed.
var errInvalid = errors.New("canary config is invalid")

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type remoteFlags struct {
	gateway string
	apiKey  string
}

func buildRootCmd() *cobra.Command {
	remote := &remoteFlags{}
	root := &cobra.Command{
		Use:           "refereectl",
		Short:         "Edit and validate Kayenta canary configs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&remote.gateway, "gateway", envOr("REFEREE_GATEWAY", defaultGateway), "gateway base url")
	root.PersistentFlags().StringVar(&remote.apiKey, "api-key", envOr("REFEREE_API_KEY", ""), "api key")
	root.AddCommand(
		buildNewCmd(),
		buildValidateCmd(),
		buildWeightsCmd(),
		buildClipboardCmd(nil),
		buildSessionCmd(remote),
		buildLibraryCmd(remote),
		buildExecuteCmd(remote),
		buildEventsCmd(dialNats),
	)
	return root
}

func newClient(remote *remoteFlags) *sdk.Client {
	return sdk.New(strings.TrimRight(remote.gateway, "/"), remote.apiKey)
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
