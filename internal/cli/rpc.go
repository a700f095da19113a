package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gephgui/internal/rpc"
	"gephgui/internal/ui"
)

var rpcCmd = &cobra.Command{
	Use:   "rpc <method> [json-params...]",
	Short: "Send a JSON-RPC call to the daemon",
	Long: `Send a JSON-RPC call to the daemon. When no daemon is reachable the
call is answered by the in-process fallback service.

Each parameter is parsed as JSON; anything that is not valid JSON is sent
as a string.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), appInstance.Config.RPC.CallTimeout)
		defer cancel()

		result, err := appInstance.Bridge.Call(ctx, args[0], parseParams(args[1:])...)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var callCmd = &cobra.Command{
	Use:   "call <method> [json-params...]",
	Short: "Invoke a front-end method locally",
	Long: `Invoke one of the methods the graphical front end uses, exactly as it
would, and print the response envelope.`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: completeIPCMethods,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		req, err := rpc.NewRequest(args[0], parseParams(args[1:])...)
		if err != nil {
			return err
		}
		d := appInstance.Dispatcher()
		resp := d.Respond(ctx, req)

		// Show the UI commands the method posted.
		appInstance.Bus.Close()
		if err := appInstance.Bus.Run(ctx, ui.NewLineHandler(os.Stderr, appInstance.Logger)); err != nil {
			return err
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, a := range args {
		if json.Valid([]byte(a)) {
			params = append(params, json.RawMessage(a))
		} else {
			params = append(params, a)
		}
	}
	return params
}

func printJSON(data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON in response: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(rpcCmd)
	rootCmd.AddCommand(callCmd)
}
