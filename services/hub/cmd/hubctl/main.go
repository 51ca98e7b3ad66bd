package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ids/internal/jwtsigner"
	"ids/services/hub/internal/dto"

	"github.com/MicahParks/keyfunc"
	"github.com/go-resty/resty/v2"
	jwtv4 "github.com/golang-jwt/jwt/v4"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "keygen":
		err = runKeygen()
	case "token":
		err = runToken(args)
	case "register":
		err = runRegister(args)
	case "devices":
		err = runDevices(args)
	case "delete":
		err = runDelete(args)
	case "events":
		err = runEvents(args)
	case "search":
		err = runSearch(args)
	case "verify":
		err = runVerify(args)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  keygen     Generate an operator token signing key")
	fmt.Fprintln(os.Stderr, "  token      Issue an operator token")
	fmt.Fprintln(os.Stderr, "  register   Register a device (uses the internal registration secret)")
	fmt.Fprintln(os.Stderr, "  devices    List registered devices")
	fmt.Fprintln(os.Stderr, "  delete     Delete a device and its key (-purge drops its events)")
	fmt.Fprintln(os.Stderr, "  events     List recent events of a device")
	fmt.Fprintln(os.Stderr, "  search     Search stored events")
	fmt.Fprintln(os.Stderr, "  verify     Check an operator token against the hub's published keys")
	os.Exit(2)
}

func runKeygen() error {
	key, err := jwtsigner.GeneratePrivateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	sub := fs.String("sub", getenv("USER", "operator"), "operator name recorded in the token")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tok, err := issueToken(*sub, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func issueToken(sub string, ttl time.Duration) (string, error) {
	priv := os.Getenv("HUB_ADMIN_PRIVATE_KEY")
	if priv == "" {
		return "", errors.New("HUB_ADMIN_PRIVATE_KEY is not set")
	}
	signer, err := jwtsigner.NewFromBase64(priv, getenv("HUB_ADMIN_KEY_ID", "hub-admin-1"), getenv("HUB_ADMIN_ISSUER", "ids-hub"))
	if err != nil {
		return "", err
	}
	return signer.Sign(sub, jwtsigner.ScopeAdmin, ttl)
}

type adminFlags struct {
	baseURL string
	token   string
}

func bindAdmin(fs *flag.FlagSet) *adminFlags {
	a := &adminFlags{}
	fs.StringVar(&a.baseURL, "hub", getenv("HUB_URL", "http://localhost:5000"), "hub base URL")
	fs.StringVar(&a.token, "token", os.Getenv("HUB_ADMIN_TOKEN"), "operator token (minted from HUB_ADMIN_PRIVATE_KEY when empty)")
	return a
}

func (a *adminFlags) client() (*resty.Client, error) {
	tok := a.token
	if tok == "" {
		var err error
		if tok, err = issueToken(getenv("USER", "operator"), 5*time.Minute); err != nil {
			return nil, err
		}
	}
	return resty.New().
		SetBaseURL(a.baseURL).
		SetTimeout(10 * time.Second).
		SetAuthToken(tok).
		SetHeader("Accept", "application/json"), nil
}

func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	baseURL := fs.String("hub", getenv("HUB_URL", "http://localhost:5000"), "hub base URL")
	secret := fs.String("secret", os.Getenv("HUB_INTERNAL_TOKEN"), "internal registration secret")
	deviceID := fs.String("device-id", "", "device id")
	name := fs.String("name", "", "device display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *deviceID == "" {
		return errors.New("-device-id is required")
	}

	resp, err := resty.New().SetBaseURL(*baseURL).SetTimeout(10*time.Second).R().
		SetHeader("X-Internal-Auth", *secret).
		SetBody(dto.RegisterDeviceRequest{DeviceID: *deviceID, Name: *name}).
		SetResult(&dto.RegisterDeviceResponse{}).
		SetError(&dto.ErrorResponse{}).
		Post("/devices")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return printJSON(resp.Result())
}

func runDevices(args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	a := bindAdmin(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	resp, err := c.R().SetResult(&dto.DeviceList{}).SetError(&dto.ErrorResponse{}).Get("/admin/devices")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return printJSON(resp.Result())
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	a := bindAdmin(fs)
	deviceID := fs.String("device-id", "", "device id")
	purge := fs.Bool("purge", false, "also delete the device's stored events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *deviceID == "" {
		return errors.New("-device-id is required")
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	var out dto.DeleteDeviceResponse
	req := c.R().SetError(&dto.ErrorResponse{}).SetPathParam("id", *deviceID)
	if *purge {
		req.SetQueryParam("purge", "true").SetResult(&out)
	}
	resp, err := req.Delete("/admin/devices/{id}")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	if *purge {
		fmt.Printf("deleted %s and %d stored events\n", *deviceID, out.PurgedEvents)
		return nil
	}
	fmt.Printf("deleted %s\n", *deviceID)
	return nil
}

func runEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	a := bindAdmin(fs)
	deviceID := fs.String("device-id", "", "device id")
	kind := fs.String("kind", "both", "file, network or both")
	limit := fs.Int("limit", 100, "maximum events (up to 1000)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *deviceID == "" {
		return errors.New("-device-id is required")
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	resp, err := c.R().
		SetPathParam("id", *deviceID).
		SetQueryParams(map[string]string{"kind": *kind, "limit": strconv.Itoa(*limit)}).
		SetResult(&dto.EventList{}).
		SetError(&dto.ErrorResponse{}).
		Get("/admin/devices/{id}/events")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return printJSON(resp.Result())
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	a := bindAdmin(fs)
	q := fs.String("q", "", "free text")
	kind := fs.String("kind", "both", "file, network or both")
	deviceID := fs.String("device-id", "", "restrict to one device")
	limit := fs.Int("limit", 100, "maximum events (up to 1000)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	resp, err := c.R().
		SetQueryParams(map[string]string{"q": *q, "kind": *kind, "device_id": *deviceID, "limit": strconv.Itoa(*limit)}).
		SetResult(&dto.EventList{}).
		SetError(&dto.ErrorResponse{}).
		Get("/admin/events/search")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return printJSON(resp.Result())
}

// runVerify validates a token the way an external consumer of the admin API
// would: against the key set the hub publishes, not a local private key.
func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	baseURL := fs.String("hub", getenv("HUB_URL", "http://localhost:5000"), "hub base URL")
	token := fs.String("token", os.Getenv("HUB_ADMIN_TOKEN"), "operator token to check")
	issuer := fs.String("issuer", getenv("HUB_ADMIN_ISSUER", "ids-hub"), "expected issuer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return errors.New("-token is required")
	}

	jwks, err := keyfunc.Get(strings.TrimRight(*baseURL, "/")+"/.well-known/jwks.json", keyfunc.Options{
		RefreshTimeout: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("fetch hub key set: %w", err)
	}
	defer jwks.EndBackground()

	claims := jwtv4.MapClaims{}
	parsed, err := jwtv4.ParseWithClaims(*token, claims, jwks.Keyfunc)
	if err != nil || !parsed.Valid {
		return fmt.Errorf("token rejected: %v", err)
	}
	if !claims.VerifyIssuer(*issuer, true) {
		return fmt.Errorf("token rejected: issuer %v, want %s", claims["iss"], *issuer)
	}
	return printJSON(map[string]any{
		"valid": true,
		"kid":   parsed.Header["kid"],
		"sub":   claims["sub"],
		"scope": claims["scope"],
		"exp":   claims["exp"],
	})
}

func apiError(resp *resty.Response) error {
	if e, ok := resp.Error().(*dto.ErrorResponse); ok && e.Error != "" {
		return fmt.Errorf("hub returned %s: %s", resp.Status(), e.Error)
	}
	return fmt.Errorf("hub returned %s", resp.Status())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
