package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"

	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/crypto"
)

var (
	errNoKey         = errors.New("--key (or ESCROW_KEY) is required")
	errMissingFlag   = errors.New("missing required flag")
	errInvalidOwner  = errors.New("invalid owner address")
	errListingAbsent = errors.New("listing not found on node")
)

// buildFunc turns command flags into the transactions of one group.
type buildFunc func(c *cli.Context, b *builder) ([]transaction.Txn, error)

func groupAction(build buildFunc) func(*cli.Context) error {
	return func(c *cli.Context) error {
		m := c.App.Metadata["config"].(*metadata)

		signer, err := loadKey(c)
		if err != nil {
			return err
		}
		nonce := c.GlobalUint64("nonce")
		if nonce == 0 {
			nonce = uint64(time.Now().UnixMicro())
		}
		b := newBuilder(signer.Address(), c.GlobalUint64("app-id"), nonce)

		txns, err := build(c, b)
		if err != nil {
			return err
		}
		domain := crypto.NewDomain(big.NewInt(c.GlobalInt64("chain-id")), c.GlobalUint64("app-id"))
		group, err := transaction.SignGroup(crypto.NewEIP712Signer(domain), txns, signer)
		if err != nil {
			return err
		}

		if m.verbose {
			fmt.Fprintf(m.e, "sender: %s\n", signer.Address().Hex())
			fmt.Fprintf(m.e, "custody: %s\n", b.custody.Hex())
			fmt.Fprintf(m.e, "nonces: %d..%d\n", nonce, b.nonce-1)
		}

		if !c.GlobalBool("submit") {
			printJson(m.w, group)
			return nil
		}
		raw, err := group.Serialize()
		if err != nil {
			return err
		}
		var response json.RawMessage
		if err := postJSON(m.node+"/api/v1/txs", raw, &response); err != nil {
			return err
		}
		printJson(m.w, response)
		return nil
	}
}

func requireUint(c *cli.Context, name string) (uint64, error) {
	if !c.IsSet(name) {
		return 0, fmt.Errorf("%w: --%s", errMissingFlag, name)
	}
	return c.Uint64(name), nil
}

func buildCreateAsset(c *cli.Context, b *builder) ([]transaction.Txn, error) {
	total, err := requireUint(c, "total")
	if err != nil {
		return nil, err
	}
	return b.createAsset(total, uint32(c.Uint("decimals")), c.String("unit"), c.String("name")), nil
}

func buildOptIn(c *cli.Context, b *builder) ([]transaction.Txn, error) {
	asset, err := requireUint(c, "asset")
	if err != nil {
		return nil, err
	}
	return b.optIn(asset), nil
}

func buildAdmit(c *cli.Context, b *builder) ([]transaction.Txn, error) {
	asset, err := requireUint(c, "asset")
	if err != nil {
		return nil, err
	}
	return b.admit(asset), nil
}

func buildOpen(c *cli.Context, b *builder) ([]transaction.Txn, error) {
	asset, err := requireUint(c, "asset")
	if err != nil {
		return nil, err
	}
	quantity, err := requireUint(c, "quantity")
	if err != nil {
		return nil, err
	}
	price, err := requireUint(c, "price")
	if err != nil {
		return nil, err
	}
	return b.open(asset, quantity, price), nil
}

func buildTopUp(c *cli.Context, b *builder) ([]transaction.Txn, error) {
	asset, err := requireUint(c, "asset")
	if err != nil {
		return nil, err
	}
	quantity, err := requireUint(c, "quantity")
	if err != nil {
		return nil, err
	}
	return b.topUp(asset, quantity), nil
}

func buildReprice(c *cli.Context, b *builder) ([]transaction.Txn, error) {
	asset, err := requireUint(c, "asset")
	if err != nil {
		return nil, err
	}
	price, err := requireUint(c, "price")
	if err != nil {
		return nil, err
	}
	return b.reprice(asset, price), nil
}

func buildBuy(c *cli.Context, b *builder) ([]transaction.Txn, error) {
	ownerHex := c.String("owner")
	if !common.IsHexAddress(ownerHex) {
		return nil, fmt.Errorf("%w: %q", errInvalidOwner, ownerHex)
	}
	owner := common.HexToAddress(ownerHex)
	asset, err := requireUint(c, "asset")
	if err != nil {
		return nil, err
	}
	quantity, err := requireUint(c, "quantity")
	if err != nil {
		return nil, err
	}

	price := c.Uint64("price")
	if !c.IsSet("price") {
		m := c.App.Metadata["config"].(*metadata)
		var l struct {
			UnitPrice uint64 `json:"unitPrice"`
		}
		found, err := getJSON(fmt.Sprintf("%s/api/v1/listings/%s/%d", m.node, owner.Hex(), asset), &l)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s/%d", errListingAbsent, owner.Hex(), asset)
		}
		price = l.UnitPrice
	}
	return b.buy(owner, asset, quantity, price)
}

func buildLiquidate(c *cli.Context, b *builder) ([]transaction.Txn, error) {
	asset, err := requireUint(c, "asset")
	if err != nil {
		return nil, err
	}
	return b.liquidate(asset), nil
}

func runKeygen(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	signer, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	printJson(m.w, map[string]string{
		"address":    signer.Address().Hex(),
		"privateKey": signer.PrivateKeyHex(),
	})
	return nil
}

func runAddress(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	out := map[string]string{
		"custody": crypto.CustodyAddress(c.GlobalUint64("app-id")).Hex(),
	}
	if signer, err := loadKey(c); err == nil {
		out["address"] = signer.Address().Hex()
	} else if !errors.Is(err, errNoKey) {
		return err
	}
	printJson(m.w, out)
	return nil
}

func runListings(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	q := url.Values{}
	if owner := c.String("owner"); owner != "" {
		q.Set("owner", owner)
	}
	if c.IsSet("asset") {
		q.Set("asset", strconv.FormatUint(c.Uint64("asset"), 10))
	}
	target := m.node + "/api/v1/listings"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	var listings json.RawMessage
	if _, err := getJSON(target, &listings); err != nil {
		return err
	}
	printJson(m.w, listings)
	return nil
}

func runReceipt(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	if c.NArg() != 1 {
		return fmt.Errorf("%w: TXID", errMissingFlag)
	}
	id, err := crypto.ParseTxID(c.Args().First())
	if err != nil {
		return err
	}
	var receipt json.RawMessage
	found, err := getJSON(m.node+"/api/v1/txs/"+id.String(), &receipt)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(m.e, "no receipt for %s (pending or unknown)\n", id)
		return nil
	}
	printJson(m.w, receipt)
	return nil
}

func loadKey(c *cli.Context) (*crypto.Signer, error) {
	key := c.GlobalString("key")
	if key == "" {
		return nil, errNoKey
	}
	return crypto.FromPrivateKeyHex(key)
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// getJSON decodes a 200 response into out. A 404 reports found=false.
func getJSON(target string, out interface{}) (bool, error) {
	resp, err := httpClient.Get(target)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, responseError(resp)
	}
	return true, json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(target string, body []byte, out interface{}) error {
	resp, err := httpClient.Post(target, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("node returned %s: %s", resp.Status, bytes.TrimSpace(body))
}

func printJson(w io.Writer, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "failed to encode result: %s\n", err)
		return
	}
	fmt.Fprintf(w, "%s\n", b)
}
