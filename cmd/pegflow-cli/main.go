// pegflow-cli is a thin operator client for the pegflow gateway.
//
//	pegflow-cli status
//	pegflow-cli trigger
//	pegflow-cli buy -amount 100 -price 0.85
//	pegflow-cli stake -amount 50
//	pegflow-cli set-param -name buyback_rate -value 0.02
//
// The gateway address comes from PEGFLOW_URL, the bearer token from
// PEGFLOW_TOKEN (obtain one with the login command).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var client = &http.Client{Timeout: 15 * time.Second}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error

	switch cmd {
	case "status":
		err = get("/api/v1/treasury/status")
	case "board":
		err = get("/api/v1/board/status")
	case "seat":
		err = get("/api/v1/board/seat")
	case "price":
		err = get("/api/v1/price")
	case "params":
		err = get("/api/v1/params")
	case "balances":
		err = get("/api/v1/account/balances")
	case "trigger":
		err = post("/api/v1/epoch/trigger", nil)
	case "claim":
		err = post("/api/v1/board/claim", nil)
	case "login":
		err = login(args)
	case "buy":
		err = bond("/api/v1/bonds/buy", args)
	case "redeem":
		err = bond("/api/v1/bonds/redeem", args)
	case "stake":
		err = amount("/api/v1/board/stake", args)
	case "withdraw":
		err = amount("/api/v1/board/withdraw", args)
	case "set-param":
		err = setParam(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pegflow-cli <command> [flags]

commands:
  status, board, seat, price, params, balances
  trigger, claim
  login    -account A -password P
  buy      -amount N -price P
  redeem   -amount N -price P
  stake    -amount N
  withdraw -amount N
  set-param -name NAME -value VALUE`)
}

func login(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	account := fs.String("account", "", "account name")
	password := fs.String("password", "", "password")
	fs.Parse(args)
	if *account == "" || *password == "" {
		return fmt.Errorf("account and password are required")
	}
	return post("/api/v1/auth/login", map[string]string{
		"account":  *account,
		"password": *password,
	})
}

func bond(path string, args []string) error {
	fs := flag.NewFlagSet(path, flag.ExitOnError)
	amount := fs.String("amount", "", "cash or bond amount")
	price := fs.String("price", "", "observed spot price the order is priced against")
	fs.Parse(args)
	if *amount == "" || *price == "" {
		return fmt.Errorf("amount and price are required")
	}
	return post(path, map[string]string{
		"amount":       *amount,
		"target_price": *price,
	})
}

func amount(path string, args []string) error {
	fs := flag.NewFlagSet(path, flag.ExitOnError)
	amount := fs.String("amount", "", "share amount")
	fs.Parse(args)
	if *amount == "" {
		return fmt.Errorf("amount is required")
	}
	return post(path, map[string]string{"amount": *amount})
}

func setParam(args []string) error {
	fs := flag.NewFlagSet("set-param", flag.ExitOnError)
	name := fs.String("name", "", "parameter name")
	value := fs.String("value", "", "new value")
	fs.Parse(args)
	if *name == "" || *value == "" {
		return fmt.Errorf("name and value are required")
	}
	return do(http.MethodPut, "/api/v1/params/"+*name, map[string]string{"value": *value})
}

func get(path string) error { return do(http.MethodGet, path, nil) }

func post(path string, body interface{}) error {
	return do(http.MethodPost, path, body)
}

func do(method, path string, body interface{}) error {
	base := os.Getenv("PEGFLOW_URL")
	if base == "" {
		base = "http://localhost:8000"
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := os.Getenv("PEGFLOW_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, payload, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(payload))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
