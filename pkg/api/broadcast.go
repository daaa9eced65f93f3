package api

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/app/listing"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// ==============================
// Broadcast Methods (called from the sequencer)
// ==============================

// OnCommit pushes the effects of a committed block to WebSocket clients.
// Listing and account payloads are read back from committed state.
func (s *Server) OnCommit(block storage.Block, resp abci.ResponseFinalizeBlock) {
	rejected := 0
	touched := map[common.Address]bool{}
	var order []common.Address
	touch := func(hex string) {
		if !common.IsHexAddress(hex) {
			return
		}
		addr := common.HexToAddress(hex)
		if !touched[addr] {
			touched[addr] = true
			order = append(order, addr)
		}
	}

	for _, res := range resp.TxResults {
		if !res.IsOK() {
			rejected++
			continue
		}
		for _, ev := range res.Events {
			switch ev.Type {
			case listing.EventEscrow:
				if ev.Get("method") != transaction.MethodAdmitAsset {
					s.BroadcastListing(ev, block.Height)
				}
				touch(ev.Get("owner"))
				touch(ev.Get("buyer"))
			case listing.EventTransfer:
				touch(ev.Get("sender"))
				touch(ev.Get("receiver"))
			case listing.EventAsset:
				touch(ev.Get("creator"))
			}
		}
	}
	for _, addr := range order {
		s.BroadcastAccount(addr, block.Height)
	}

	s.hub.BroadcastToChannel("blocks", BlockUpdate{
		Type:      "block",
		Height:    block.Height,
		Timestamp: block.Timestamp,
		Groups:    len(resp.TxResults),
		Rejected:  rejected,
		AppHash:   fmt.Sprintf("0x%x", resp.AppHash[:]),
	})
}

// BroadcastListing sends the current state of the listing an escrow event
// touched.
func (s *Server) BroadcastListing(ev abci.Event, height uint64) {
	owner := ev.Get("owner")
	asset, err := strconv.ParseUint(ev.Get("asset"), 10, 64)
	if err != nil || !common.IsHexAddress(owner) {
		return
	}
	update := ListingUpdate{
		Type:   "listing",
		Method: ev.Get("method"),
		Owner:  common.HexToAddress(owner).Hex(),
		Asset:  asset,
		Buyer:  ev.Get("buyer"),
		Height: height,
	}
	if q := ev.Get("quantity"); q != "" {
		update.Quantity, _ = strconv.ParseUint(q, 10, 64)
	}

	l, ok, err := s.app.GetListing(common.HexToAddress(owner), asset)
	if err != nil {
		s.logger.Warnw("ws_listing_read_failed", "owner", owner, "asset", asset, "error", err)
		return
	}
	if ok {
		info := toListingInfo(l)
		update.Listing = &info
	}

	s.hub.BroadcastToChannel("listings", update)
	s.hub.BroadcastToChannel(channelName("listing", update.Owner, strconv.FormatUint(asset, 10)), update)
}

// BroadcastAccount sends the committed account view of addr.
func (s *Server) BroadcastAccount(addr common.Address, height uint64) {
	view, err := s.app.GetAccount(addr)
	if err != nil {
		s.logger.Warnw("ws_account_read_failed", "address", addr.Hex(), "error", err)
		return
	}
	s.hub.BroadcastToChannel(channelName("account", addr.Hex()), AccountUpdate{Type: "account", Account: view, Height: height})
}
