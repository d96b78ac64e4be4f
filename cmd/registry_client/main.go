package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/landsure/landsure-registry/api"
	"github.com/landsure/landsure-registry/api/clients"
	"github.com/landsure/landsure-registry/interfaces"
	"github.com/urfave/cli/v2"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:    "server-addr",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"LANDSURE_SERVER_ADDR"},
	Usage:   "Registry server address to request",
}
var flagTimeout *cli.DurationFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: 90 * time.Second,
	Usage: "Request timeout; registrations wait for ledger finality",
}
var flagCertificateID *cli.StringFlag = &cli.StringFlag{
	Name:     "id",
	Required: true,
	Usage:    "Certificate ID",
}
var flagOwner *cli.StringFlag = &cli.StringFlag{
	Name:  "owner",
	Usage: "Main owner address; defaults to the server's ledger signer",
}
var flagArea *cli.StringFlag = &cli.StringFlag{
	Name:     "area",
	Required: true,
	Usage:    "Total area in square units",
}
var flagTokens *cli.Uint64Flag = &cli.Uint64Flag{
	Name:     "tokens",
	Required: true,
	Usage:    "Number of tokens to mint",
}
var flagMetadata *cli.StringFlag = &cli.StringFlag{
	Name:  "metadata",
	Usage: "JSON file with the metadata document, '-' for stdin",
}
var flagImageURL *cli.StringFlag = &cli.StringFlag{
	Name:  "image-url",
	Usage: "Image URL to attach",
}
var flagAttribute *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "attr",
	Usage: "key=value attribute, may be repeated",
}

const usage string = `Client for the LandSure certificate registry`

func main() {
	app := &cli.App{
		Name:  "registry client",
		Usage: usage,
		Flags: []cli.Flag{
			flagServerAddr,
			flagTimeout,
		},
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "Register a certificate and mint its tokens",
				Flags: []cli.Flag{flagCertificateID, flagOwner, flagArea, flagTokens, flagMetadata},
				Action: func(cCtx *cli.Context) error {
					return withClient(cCtx, (*Client).Register)
				},
			},
			{
				Name:  "get",
				Usage: "Print a certificate",
				Flags: []cli.Flag{flagCertificateID},
				Action: func(cCtx *cli.Context) error {
					return withClient(cCtx, (*Client).GetCertificate)
				},
			},
			{
				Name:      "token",
				Usage:     "Print a token",
				ArgsUsage: "<token id>",
				Action: func(cCtx *cli.Context) error {
					return withClient(cCtx, (*Client).GetToken)
				},
			},
			{
				Name:  "status",
				Usage: "Print the sync state of a certificate",
				Flags: []cli.Flag{flagCertificateID},
				Action: func(cCtx *cli.Context) error {
					return withClient(cCtx, (*Client).Status)
				},
			},
			{
				Name:  "resync",
				Usage: "Rewrite the projection of a certificate from the ledger",
				Flags: []cli.Flag{flagCertificateID},
				Action: func(cCtx *cli.Context) error {
					return withClient(cCtx, (*Client).Resync)
				},
			},
			{
				Name:  "store",
				Usage: "Attach presentation fields to a certificate",
				Flags: []cli.Flag{flagCertificateID, flagImageURL, flagAttribute},
				Action: func(cCtx *cli.Context) error {
					return withClient(cCtx, (*Client).Store)
				},
			},
			{
				Name:      "verify",
				Usage:     "Match fields against the reference set",
				ArgsUsage: "<key=value>...",
				Action: func(cCtx *cli.Context) error {
					return withClient(cCtx, (*Client).Verify)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type Client struct {
	Provider api.RegistryProvider
	Out      io.Writer
}

func withClient(cCtx *cli.Context, fn func(*Client, context.Context, *cli.Context) error) error {
	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
	defer cancel()

	c := &Client{
		Provider: clients.NewRegistryClient(strings.TrimRight(cCtx.String(flagServerAddr.Name), "/")),
		Out:      os.Stdout,
	}
	return fn(c, ctx, cCtx)
}

func (c *Client) Register(ctx context.Context, cCtx *cli.Context) error {
	metadata := map[string]any{}
	if path := cCtx.String(flagMetadata.Name); path != "" {
		var err error
		if metadata, err = readMetadata(path); err != nil {
			return err
		}
	}

	resp, err := c.Provider.Register(ctx, &interfaces.RegistrationRequest{
		CertificateID:  cCtx.String(flagCertificateID.Name),
		MainOwner:      cCtx.String(flagOwner.Name),
		TotalArea:      interfaces.TotalArea(cCtx.String(flagArea.Name)),
		NumberOfTokens: cCtx.Uint64(flagTokens.Name),
		Metadata:       metadata,
	})
	if sameContent, ok := clients.IsAlreadyRegistered(err); ok {
		if sameContent {
			return errors.New("certificate is already registered with the same metadata")
		}
		return errors.New("certificate is already registered with different metadata")
	}
	if errors.Is(err, interfaces.ErrUnknownOutcome) {
		return fmt.Errorf("registration outcome unknown, check status before retrying: %w", err)
	}
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	return c.print(resp)
}

func (c *Client) GetCertificate(ctx context.Context, cCtx *cli.Context) error {
	rec, err := c.Provider.GetCertificate(ctx, interfaces.CertificateID(cCtx.String(flagCertificateID.Name)))
	if err != nil {
		return fmt.Errorf("certificate request failed: %w", err)
	}
	return c.print(rec)
}

func (c *Client) GetToken(ctx context.Context, cCtx *cli.Context) error {
	id, err := interfaces.ParseTokenID(cCtx.Args().First())
	if err != nil {
		return err
	}
	token, err := c.Provider.GetToken(ctx, id)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	return c.print(token)
}

func (c *Client) Status(ctx context.Context, cCtx *cli.Context) error {
	status, err := c.Provider.Status(ctx, interfaces.CertificateID(cCtx.String(flagCertificateID.Name)))
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	return c.print(status)
}

func (c *Client) Resync(ctx context.Context, cCtx *cli.Context) error {
	rec, err := c.Provider.Resync(ctx, interfaces.CertificateID(cCtx.String(flagCertificateID.Name)))
	if err != nil {
		return fmt.Errorf("resync failed: %w", err)
	}
	return c.print(rec)
}

func (c *Client) Store(ctx context.Context, cCtx *cli.Context) error {
	attributes, err := parsePairs(cCtx.StringSlice(flagAttribute.Name))
	if err != nil {
		return err
	}
	req := &api.StoreProjectionRequest{
		CertificateID: cCtx.String(flagCertificateID.Name),
		ImageURL:      cCtx.String(flagImageURL.Name),
	}
	if len(attributes) > 0 {
		req.Attributes = attributes
	}

	rec, err := c.Provider.StoreProjection(ctx, req)
	if err != nil {
		return fmt.Errorf("store failed: %w", err)
	}
	return c.print(rec)
}

func (c *Client) Verify(ctx context.Context, cCtx *cli.Context) error {
	pairs, err := parsePairs(cCtx.Args().Slice())
	if err != nil {
		return err
	}
	candidate := make(map[string]any, len(pairs))
	for k, v := range pairs {
		candidate[k] = scalarValue(v)
	}

	resp, err := c.Provider.Verify(ctx, candidate)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	return c.print(resp)
}

func (c *Client) print(v any) error {
	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readMetadata(path string) (map[string]any, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var metadata map[string]any
	if err := json.NewDecoder(r).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("could not parse metadata: %w", err)
	}
	return metadata, nil
}

func parsePairs(args []string) (map[string]string, error) {
	pairs := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		pairs[k] = v
	}
	return pairs, nil
}

// scalarValue types a command line value the way JSON would: numbers and
// booleans are sent unquoted.
func scalarValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
