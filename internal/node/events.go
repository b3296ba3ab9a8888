package node

import (
	"encoding/json"

	"github.com/mbd888/stakebot/internal/events"
	"github.com/mbd888/stakebot/internal/ledger"
)

// Push events from the node.
const (
	eventWalletReady = "wallet_ready"
	eventPaired      = "paired"
	eventText        = "text"
	eventNewUnits    = "new_my_transactions"
	eventStableUnits = "my_transactions_became_stable"
)

type walletReadyData struct {
	FirstAddress  string `json:"first_address"`
	DeviceAddress string `json:"device_address"`
}

type pairedData struct {
	Device string `json:"device"`
	Secret string `json:"secret,omitempty"`
}

type textData struct {
	Device string `json:"device"`
	Text   string `json:"text"`
}

type unitsData struct {
	Units []ledger.UnitID `json:"units"`
}

// publishEvent translates a pushed node frame into a dispatcher event.
func (c *Client) publishEvent(f frame) {
	switch f.Event {
	case eventWalletReady:
		var d walletReadyData
		if !c.decode(f, &d) {
			return
		}
		c.dispatcher.Publish(events.WalletReady{FirstAddress: d.FirstAddress, DeviceAddress: d.DeviceAddress})
	case eventPaired:
		var d pairedData
		if !c.decode(f, &d) {
			return
		}
		c.dispatcher.Publish(events.Paired{Device: d.Device, Secret: d.Secret})
	case eventText:
		var d textData
		if !c.decode(f, &d) {
			return
		}
		c.dispatcher.Publish(events.MessageReceived{Device: d.Device, Text: d.Text})
	case eventNewUnits:
		var d unitsData
		if !c.decode(f, &d) {
			return
		}
		c.dispatcher.Publish(events.UnconfirmedTransactions{Units: d.Units})
	case eventStableUnits:
		var d unitsData
		if !c.decode(f, &d) {
			return
		}
		c.dispatcher.Publish(events.TransactionsStable{Units: d.Units})
	default:
		c.logger.Debug("ignoring node event", "event", f.Event)
	}
}

func (c *Client) decode(f frame, into any) bool {
	if err := json.Unmarshal(f.Data, into); err != nil {
		c.logger.Error("failed to decode node event", "event", f.Event, "error", err)
		return false
	}
	return true
}
