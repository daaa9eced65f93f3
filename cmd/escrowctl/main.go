package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"
)

type metadata struct {
	node    string
	verbose bool
	e       io.Writer
	w       io.Writer
}

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "escrowctl"
	app.Usage = "build, sign and submit escrow listing transactions"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "node, n",
			Value: "http://localhost:8080",
			Usage: " node API `URL`",
		},
		cli.StringFlag{
			Name:   "key, k",
			EnvVar: "ESCROW_KEY",
			Usage:  " hex private `KEY` used to sign",
		},
		cli.Int64Flag{
			Name:  "chain-id",
			Value: 1337,
			Usage: " EIP-712 chain `ID`",
		},
		cli.Uint64Flag{
			Name:  "app-id",
			Value: 1,
			Usage: " escrow application `ID`",
		},
		cli.Uint64Flag{
			Name:  "nonce",
			Usage: " first nonce of the group `N` [default: current time in microseconds]",
		},
		cli.BoolFlag{
			Name:  "submit, s",
			Usage: " POST the signed group to the node instead of printing it",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " verbose result",
		},
	}

	assetFlag := cli.Uint64Flag{Name: "asset, a", Usage: "*asset `ID`"}
	quantityFlag := cli.Uint64Flag{Name: "quantity, q", Usage: "*token `AMOUNT`"}
	priceFlag := cli.Uint64Flag{Name: "price, p", Usage: "*unit price in native `UNITS`"}

	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "generate a new key pair",
			Action: runKeygen,
		},
		{
			Name:   "address",
			Usage:  "print the address of --key and the custody address of --app-id",
			Action: runAddress,
		},
		{
			Name:  "create-asset",
			Usage: "create a new asset with its whole supply held by the signer",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "total, t", Usage: "*total supply `AMOUNT`"},
				cli.UintFlag{Name: "decimals, d", Usage: " display `DECIMALS`"},
				cli.StringFlag{Name: "unit, u", Usage: " unit `NAME`"},
				cli.StringFlag{Name: "name", Usage: " asset `NAME`"},
			},
			Action: groupAction(buildCreateAsset),
		},
		{
			Name:   "opt-in",
			Usage:  "opt the signer in to an asset",
			Flags:  []cli.Flag{assetFlag},
			Action: groupAction(buildOptIn),
		},
		{
			Name:   "admit",
			Usage:  "pay for the custody to hold an asset",
			Flags:  []cli.Flag{assetFlag},
			Action: groupAction(buildAdmit),
		},
		{
			Name:   "open",
			Usage:  "open a listing: post collateral, deposit tokens and set the price",
			Flags:  []cli.Flag{assetFlag, quantityFlag, priceFlag},
			Action: groupAction(buildOpen),
		},
		{
			Name:   "top-up",
			Usage:  "deposit more tokens into an existing listing",
			Flags:  []cli.Flag{assetFlag, quantityFlag},
			Action: groupAction(buildTopUp),
		},
		{
			Name:   "reprice",
			Usage:  "change the unit price of a listing",
			Flags:  []cli.Flag{assetFlag, priceFlag},
			Action: groupAction(buildReprice),
		},
		{
			Name:  "buy",
			Usage: "buy tokens from a listing, paying the owner",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "owner, o", Usage: "*listing owner `ADDRESS`"},
				assetFlag,
				quantityFlag,
				cli.Uint64Flag{Name: "price, p", Usage: " unit `PRICE` [default: read the listing from the node]"},
			},
			Action: groupAction(buildBuy),
		},
		{
			Name:   "liquidate",
			Usage:  "close a listing and take back tokens and collateral",
			Flags:  []cli.Flag{assetFlag},
			Action: groupAction(buildLiquidate),
		},
		{
			Name:  "listings",
			Usage: "list open listings",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "owner, o", Usage: " filter by owner `ADDRESS`"},
				cli.Uint64Flag{Name: "asset, a", Usage: " filter by asset `ID`"},
			},
			Action: runListings,
		},
		{
			Name:      "receipt",
			Usage:     "show the receipt of a transaction",
			ArgsUsage: "TXID",
			Action:    runReceipt,
		},
	}

	app.Before = func(c *cli.Context) error {
		app.Metadata = map[string]interface{}{
			"config": &metadata{
				node:    c.GlobalString("node"),
				verbose: c.GlobalBool("verbose"),
				e:       app.ErrWriter,
				w:       app.Writer,
			},
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		os.Exit(1)
	}
}
