// Command marketctl drives a running marketd from the shell: create and
// settle listings, auctions and offers, claim withdrawals and seed a devnet.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/urfave/cli/v2"

	"github.com/alanyoungcy/marketengine/internal/client"
	"github.com/alanyoungcy/marketengine/internal/config"
	"github.com/alanyoungcy/marketengine/internal/crypto"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:     "marketctl",
		Usage:    "command-line client for the marketd settlement engine",
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "marketd base URL", EnvVars: []string{"MARKETCTL_URL"}},
			&cli.StringFlag{Name: "api-key", Usage: "API key", EnvVars: []string{"MARKETCTL_API_KEY", "MARKETD_SERVER_API_KEY"}},
			&cli.StringFlag{Name: "from", Usage: "caller address or devnet account name (defaults to the signing key's address)", EnvVars: []string{"MARKETCTL_FROM"}},
			&cli.StringFlag{Name: "key", Usage: "hex private key to sign calls with", EnvVars: []string{"MARKETCTL_KEY"}},
			&cli.StringFlag{Name: "key-file", Usage: "encrypted key file to sign calls with", EnvVars: []string{"MARKETCTL_KEY_FILE"}},
			&cli.StringFlag{Name: "key-password", Usage: "password of --key-file", EnvVars: []string{"MARKETCTL_KEY_PASSWORD"}},
			&cli.Int64Flag{Name: "chain-id", Value: 31337, Usage: "chain id the server signs under", EnvVars: []string{"MARKETCTL_CHAIN_ID"}},
			&cli.StringFlag{Name: "engine", Value: "engine", Usage: "engine address or devnet name the server signs under", EnvVars: []string{"MARKETCTL_ENGINE"}},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "show engine configuration and counters",
				Action: showStatus,
			},
			{
				Name:  "listing",
				Usage: "fixed-price listings",
				Subcommands: []*cli.Command{
					{Name: "create", Usage: "list an asset", Flags: itemFlags(), Action: createListing},
					{Name: "buy", Usage: "buy a listing", ArgsUsage: "<id>", Flags: []cli.Flag{valueFlag()}, Action: buyListing},
					{Name: "cancel", Usage: "cancel a listing", ArgsUsage: "<id>", Action: cancelListing},
					{Name: "get", Usage: "show a listing", ArgsUsage: "<id>", Action: getListing},
				},
			},
			{
				Name:  "auction",
				Usage: "english auctions",
				Subcommands: []*cli.Command{
					{Name: "create", Usage: "start an auction (price is the start price)", Flags: itemFlags(), Action: createAuction},
					{Name: "bid", Usage: "bid on an auction", ArgsUsage: "<id> <amount>", Flags: []cli.Flag{valueFlag()}, Action: placeBid},
					{Name: "finalize", Usage: "settle an ended auction", ArgsUsage: "<id>", Action: finalizeAuction},
					{Name: "cancel", Usage: "cancel an auction without bids", ArgsUsage: "<id>", Action: cancelAuction},
					{Name: "get", Usage: "show an auction", ArgsUsage: "<id>", Action: getAuction},
					{
						Name:   "ended",
						Usage:  "list active auctions past their end time",
						Flags:  []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
						Action: endedAuctions,
					},
				},
			},
			{
				Name:  "offer",
				Usage: "escrowed offers",
				Subcommands: []*cli.Command{
					{Name: "create", Usage: "make an offer (native offers attach the price)", Flags: itemFlags(), Action: createOffer},
					{Name: "accept", Usage: "accept an offer as the asset owner", ArgsUsage: "<id>", Action: acceptOffer},
					{Name: "cancel", Usage: "cancel an offer", ArgsUsage: "<id>", Action: cancelOffer},
				},
			},
			{
				Name:   "withdraw",
				Usage:  "claim a pending balance",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "payment", Value: "native", Usage: "\"native\" or token address/name"}},
				Action: withdraw,
			},
			{
				Name:      "pending",
				Usage:     "list pending withdrawals of an account",
				ArgsUsage: "<account>",
				Action:    pending,
			},
			{
				Name:  "devnet",
				Usage: "seed the in-process devnet ledger",
				Subcommands: []*cli.Command{
					{Name: "fund", Usage: "credit native currency", ArgsUsage: "<account> <amount>", Action: fund},
					{
						Name:      "mint-asset",
						Usage:     "mint an asset",
						ArgsUsage: "<collection> <asset-id> <owner>",
						Action:    mintAsset,
					},
					{
						Name:      "approve-operator",
						Usage:     "approve an operator over all of an owner's assets in a collection",
						ArgsUsage: "<collection> <owner> <operator>",
						Action:    approveOperator,
					},
				},
			},
			{
				Name:   "archive",
				Usage:  "run one archive pass",
				Action: runArchive,
			},
			{
				Name:  "watch",
				Usage: "stream engine events as JSON lines",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "topics", Usage: "event types to follow, e.g. auction_* (default all)"},
					&cli.StringFlag{Name: "since", Usage: "replay stream entries after this id first"},
				},
				Action: watch,
			},
			{
				Name:  "key",
				Usage: "manage signing keys",
				Subcommands: []*cli.Command{
					{
						Name:   "generate",
						Usage:  "create a new key; with --out it is written encrypted",
						Flags:  keyOutFlags(),
						Action: generateKey,
					},
					{
						Name:      "encrypt",
						Usage:     "encrypt an existing hex key into a key file",
						ArgsUsage: "<hex-key>",
						Flags:     keyOutFlags(),
						Action:    encryptKey,
					},
					{
						Name:   "address",
						Usage:  "print the address of the configured signing key",
						Action: keyAddress,
					},
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("marketctl failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func itemFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "collection", Required: true, Usage: "collection address or devnet name"},
		&cli.StringFlag{Name: "asset", Required: true, Usage: "asset id (decimal or 0x hex)"},
		&cli.StringFlag{Name: "price", Required: true, Usage: "price in base units"},
		&cli.StringFlag{Name: "payment", Value: "native", Usage: "\"native\" or token address/name"},
		&cli.DurationFlag{Name: "duration", Required: true, Usage: "how long the item stays open"},
		valueFlag(),
	}
}

func valueFlag() cli.Flag {
	return &cli.StringFlag{Name: "value", Usage: "native value attached to the call"}
}

func keyOutFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "out", Usage: "key file to write"},
		&cli.StringFlag{Name: "password", Usage: "password to encrypt the key file with", EnvVars: []string{"MARKETCTL_KEY_PASSWORD"}},
	}
}

// setup builds the API client, with a signer when a key is configured.
func setup(c *cli.Context) error {
	cl := client.New(c.String("url"), c.String("api-key"))
	src := crypto.KeySource{
		RawKey:   c.String("key"),
		KeyFile:  c.String("key-file"),
		Password: c.String("key-password"),
	}
	if !src.Empty() {
		engine, err := config.ResolveAddress(c.String("engine"))
		if err != nil {
			return fmt.Errorf("--engine: %w", err)
		}
		signer, err := crypto.LoadSigner(src, crypto.NewDomain(c.Int64("chain-id"), engine))
		if err != nil {
			return err
		}
		cl.WithSigner(signer)
		c.App.Metadata["signer"] = signer
	}
	c.App.Metadata["client"] = cl
	return nil
}

func newClient(c *cli.Context) *client.Client {
	return c.App.Metadata["client"].(*client.Client)
}

func signerOf(c *cli.Context) *crypto.Signer {
	s, _ := c.App.Metadata["signer"].(*crypto.Signer)
	return s
}

// callOf builds the caller from --from and --value. Without --from the
// signing key's address is used.
func callOf(c *cli.Context) (domain.Call, error) {
	var from common.Address
	switch {
	case c.String("from") != "":
		var err error
		if from, err = config.ResolveAddress(c.String("from")); err != nil {
			return domain.Call{}, fmt.Errorf("--from: %w", err)
		}
	case signerOf(c) != nil:
		from = signerOf(c).Address()
	default:
		return domain.Call{}, cli.Exit("--from or a signing key is required", 2)
	}
	call := domain.CallFrom(from)
	if v := c.String("value"); v != "" {
		n, err := parseAmount(v)
		if err != nil {
			return domain.Call{}, fmt.Errorf("--value: %w", err)
		}
		call = call.WithValue(n)
	}
	return call, nil
}

func itemOf(c *cli.Context) (client.Item, error) {
	collection, err := config.ResolveAddress(c.String("collection"))
	if err != nil {
		return client.Item{}, fmt.Errorf("--collection: %w", err)
	}
	asset, err := parseAmount(c.String("asset"))
	if err != nil {
		return client.Item{}, fmt.Errorf("--asset: %w", err)
	}
	price, err := parseAmount(c.String("price"))
	if err != nil {
		return client.Item{}, fmt.Errorf("--price: %w", err)
	}
	pm, err := config.ResolvePaymentMethod(c.String("payment"))
	if err != nil {
		return client.Item{}, fmt.Errorf("--payment: %w", err)
	}
	return client.Item{
		Collection:    collection,
		AssetID:       asset,
		PaymentMethod: pm,
		Price:         price,
		Duration:      c.Duration("duration"),
	}, nil
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func argID(c *cli.Context, i int) (uint64, error) {
	raw := c.Args().Get(i)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, cli.Exit(fmt.Sprintf("invalid id %q", raw), 2)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// STATUS

func showStatus(c *cli.Context) error {
	status, err := newClient(c).Status(c.Context)
	if err != nil {
		return err
	}
	return printJSON(status)
}

// LISTINGS

func createListing(c *cli.Context) error {
	call, err := callOf(c)
	if err != nil {
		return err
	}
	it, err := itemOf(c)
	if err != nil {
		return err
	}
	id, err := newClient(c).CreateListing(c.Context, call, it)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id})
}

func buyListing(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	call, err := callOf(c)
	if err != nil {
		return err
	}
	s, err := newClient(c).BuyListing(c.Context, call, id)
	if err != nil {
		return err
	}
	return printJSON(s)
}

func cancelListing(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	call, err := callOf(c)
	if err != nil {
		return err
	}
	return newClient(c).CancelListing(c.Context, call, id)
}

func getListing(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	l, err := newClient(c).GetListing(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(l)
}

// AUCTIONS

func createAuction(c *cli.Context) error {
	call, err := callOf(c)
	if err != nil {
		return err
	}
	it, err := itemOf(c)
	if err != nil {
		return err
	}
	id, err := newClient(c).CreateAuction(c.Context, call, it)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id})
}

func placeBid(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	amount, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return err
	}
	call, err := callOf(c)
	if err != nil {
		return err
	}
	return newClient(c).PlaceBid(c.Context, call, id, amount)
}

func finalizeAuction(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	call, err := callOf(c)
	if err != nil {
		return err
	}
	return newClient(c).FinalizeAuction(c.Context, call, id)
}

func cancelAuction(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	call, err := callOf(c)
	if err != nil {
		return err
	}
	return newClient(c).CancelAuction(c.Context, call, id)
}

func getAuction(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	a, err := newClient(c).GetAuction(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(a)
}

func endedAuctions(c *cli.Context) error {
	ids, err := newClient(c).EndedAuctions(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"ids": ids})
}

// OFFERS

func createOffer(c *cli.Context) error {
	call, err := callOf(c)
	if err != nil {
		return err
	}
	it, err := itemOf(c)
	if err != nil {
		return err
	}
	id, err := newClient(c).CreateOffer(c.Context, call, it)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"id": id})
}

func acceptOffer(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	call, err := callOf(c)
	if err != nil {
		return err
	}
	s, err := newClient(c).AcceptOffer(c.Context, call, id)
	if err != nil {
		return err
	}
	return printJSON(s)
}

func cancelOffer(c *cli.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return err
	}
	call, err := callOf(c)
	if err != nil {
		return err
	}
	return newClient(c).CancelOffer(c.Context, call, id)
}

// WITHDRAWALS

func withdraw(c *cli.Context) error {
	call, err := callOf(c)
	if err != nil {
		return err
	}
	pm, err := config.ResolvePaymentMethod(c.String("payment"))
	if err != nil {
		return fmt.Errorf("--payment: %w", err)
	}
	amount, err := newClient(c).Withdraw(c.Context, call, pm)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"payment_method": pm, "amount": amount})
}

func pending(c *cli.Context) error {
	account, err := config.ResolveAddress(c.Args().First())
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	out, err := newClient(c).PendingWithdrawals(c.Context, account)
	if err != nil {
		return err
	}
	return printJSON(out)
}

// DEVNET

func fund(c *cli.Context) error {
	account, err := config.ResolveAddress(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	amount, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return err
	}
	return newClient(c).Fund(c.Context, account, amount)
}

func mintAsset(c *cli.Context) error {
	collection, err := config.ResolveAddress(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("collection: %w", err)
	}
	assetID, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return err
	}
	owner, err := config.ResolveAddress(c.Args().Get(2))
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	return newClient(c).MintAsset(c.Context, collection, assetID, owner)
}

func approveOperator(c *cli.Context) error {
	collection, err := config.ResolveAddress(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("collection: %w", err)
	}
	owner, err := config.ResolveAddress(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	operator, err := config.ResolveAddress(c.Args().Get(2))
	if err != nil {
		return fmt.Errorf("operator: %w", err)
	}
	return newClient(c).SetOperator(c.Context, collection, owner, operator, true)
}

// ARCHIVE

func runArchive(c *cli.Context) error {
	results, err := newClient(c).RunArchive(c.Context)
	if len(results) > 0 {
		if perr := printJSON(results); perr != nil {
			return perr
		}
	}
	return err
}

// EVENTS

func watch(c *cli.Context) error {
	enc := json.NewEncoder(os.Stdout)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sub := newClient(c).Subscribe(c.StringSlice("topics"), func(ev domain.Event) {
		_ = enc.Encode(ev)
	}, logger).Since(c.String("since"))

	if err := sub.Run(c.Context); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// KEYS

func generateKey(c *cli.Context) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	return writeKey(c, key)
}

func encryptKey(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: marketctl key encrypt --out <file> --password <pw> <hex-key>", 2)
	}
	if c.String("out") == "" {
		return cli.Exit("--out is required", 2)
	}
	return writeKey(c, c.Args().First())
}

// writeKey prints key's address and writes it encrypted to --out, or prints
// the raw key when --out is unset.
func writeKey(c *cli.Context, key string) error {
	signer, err := crypto.NewSigner(key, crypto.Domain{})
	if err != nil {
		return err
	}
	out := map[string]any{"address": signer.Address()}
	if path := c.String("out"); path != "" {
		data, err := crypto.EncryptKey(key, c.String("password"))
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		out["key_file"] = path
	} else {
		out["private_key"] = key
	}
	return printJSON(out)
}

func keyAddress(c *cli.Context) error {
	s := signerOf(c)
	if s == nil {
		return cli.Exit("no signing key configured (--key or --key-file)", 2)
	}
	return printJSON(map[string]any{"address": s.Address()})
}
