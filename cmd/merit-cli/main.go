package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"meritchain/crypto"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("MERIT_RPC_TOKEN")

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func main() {
	args := os.Args[1:]
	args = applyGlobalFlags(args)

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	args = args[1:]
	switch command {
	case "generate-key":
		generateKey(args)
	case "deposit":
		requireArgs(args, 2, "deposit <from> <amount>")
		rpcPrint("fund_deposit", map[string]interface{}{"from": args[0], "amount": args[1]})
	case "verify":
		requireArgs(args, 2, "verify <caller> <student>")
		rpcPrint("fund_verifyStudent", map[string]interface{}{"caller": args[0], "student": args[1]})
	case "batch-verify":
		requireArgs(args, 2, "batch-verify <caller> <student>...")
		rpcPrint("fund_batchVerifyStudents", map[string]interface{}{"caller": args[0], "students": args[1:]})
	case "set-score":
		requireArgs(args, 4, "set-score <caller> <student> <score> <proofHash>")
		score, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			fatal("invalid score: %v", err)
		}
		rpcPrint("fund_setMeritScore", map[string]interface{}{
			"caller":    args[0],
			"student":   args[1],
			"score":     uint32(score),
			"proofHash": args[3],
		})
	case "distribute":
		requireArgs(args, 2, "distribute <caller> <student>")
		rpcPrint("fund_distribute", map[string]interface{}{"caller": args[0], "student": args[1]})
	case "store-proof":
		requireArgs(args, 3, "store-proof <caller> <student> <documentHash>")
		rpcPrint("fund_storeEnrollmentProof", map[string]interface{}{
			"caller":       args[0],
			"student":      args[1],
			"documentHash": args[2],
		})
	case "transfer-admin":
		requireArgs(args, 2, "transfer-admin <caller> <next>")
		rpcPrint("fund_transferAdmin", map[string]interface{}{"caller": args[0], "next": args[1]})
	case "student":
		requireArgs(args, 1, "student <address>")
		rpcPrint("fund_getStudent", map[string]interface{}{"student": args[0]})
	case "total-funds":
		rpcPrint("fund_totalFunds", nil)
	case "events":
		params := map[string]interface{}{}
		if len(args) > 0 {
			after, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				fatal("invalid sequence: %v", err)
			}
			params["after"] = after
		}
		rpcPrint("fund_listEvents", params)
	case "credential-mint":
		requireArgs(args, 4, "credential-mint <caller> <to> <university> <studentId>")
		rpcPrint("credential_mint", map[string]interface{}{
			"caller":     args[0],
			"to":         args[1],
			"university": args[2],
			"studentId":  args[3],
		})
	case "credential":
		requireArgs(args, 1, "credential <tokenId>")
		tokenID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fatal("invalid token id: %v", err)
		}
		rpcPrint("credential_get", map[string]interface{}{"tokenId": tokenID})
	case "credential-status":
		requireArgs(args, 3, "credential-status <caller> <tokenId> <active>")
		tokenID, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fatal("invalid token id: %v", err)
		}
		active, err := strconv.ParseBool(args[2])
		if err != nil {
			fatal("invalid active flag: %v", err)
		}
		rpcPrint("credential_updateStatus", map[string]interface{}{
			"caller":  args[0],
			"tokenId": tokenID,
			"active":  active,
		})
	case "enrollment":
		requireArgs(args, 1, "enrollment <owner>")
		rpcPrint("credential_hasActiveEnrollment", map[string]interface{}{"owner": args[0]})
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func applyGlobalFlags(args []string) []string {
	out := args[:0]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--rpc" && i+1 < len(args):
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--rpc="):
			rpcEndpoint = strings.TrimPrefix(args[i], "--rpc=")
		default:
			out = append(out, args[i])
		}
	}
	return out
}

func generateKey(args []string) {
	path := "merit_key.json"
	if len(args) > 0 {
		path = args[0]
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fatal("generate key: %v", err)
	}
	passphrase := strings.TrimSpace(os.Getenv("MERIT_KEYSTORE_PASS"))
	if passphrase == "" {
		fatal("set MERIT_KEYSTORE_PASS before generating a key")
	}
	if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
		fatal("save keystore: %v", err)
	}
	fmt.Printf("New key saved to %s\n", path)
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Printf("Usage: merit-cli %s\n", usage)
		os.Exit(1)
	}
}

func rpcPrint(method string, params map[string]interface{}) {
	result, err := rpcCall(method, params)
	if err != nil {
		fatal("%v", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(pretty.String())
}

func rpcCall(method string, params map[string]interface{}) (json.RawMessage, error) {
	paramList := []interface{}{}
	if params != nil {
		paramList = append(paramList, params)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  paramList,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("invalid rpc response: %w", err)
	}
	if decoded.Error != nil {
		detail := strings.TrimSpace(string(decoded.Error.Data))
		if detail != "" {
			return nil, fmt.Errorf("%s: %s (%s)", method, decoded.Error.Message, detail)
		}
		return nil, fmt.Errorf("%s: %s", method, decoded.Error.Message)
	}
	return decoded.Result, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`Usage: merit-cli [--rpc <url>] <command> [args]

Key management:
  generate-key [path]                          Generate a keystore (MERIT_KEYSTORE_PASS required)

Scholarship fund:
  deposit <from> <amount>                      Move funds from a donor account into the pool
  verify <caller> <student>                    Verify a student (admin only)
  batch-verify <caller> <student>...           Verify several students atomically (admin only)
  set-score <caller> <student> <score> <hash>  Record a merit score with its proof hash (admin only)
  distribute <caller> <student>                Pay out the student's share (admin only)
  store-proof <caller> <student> <hash>        Anchor an enrollment document hash
  transfer-admin <caller> <next>               Hand the admin role to another address
  student <address>                            Show a student's fund record
  total-funds                                  Show the pool balance
  events [after]                               List ledger events, optionally after a sequence

Enrollment credentials:
  credential-mint <caller> <to> <univ> <id>    Mint a non-transferable enrollment credential
  credential <tokenId>                         Show a credential
  credential-status <caller> <tokenId> <bool>  Activate or deactivate a credential
  enrollment <owner>                           Check for an active enrollment

Environment:
  RPC_URL           RPC endpoint (default http://localhost:8080)
  MERIT_RPC_TOKEN   Bearer token for mutating methods`)
}
