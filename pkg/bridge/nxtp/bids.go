package nxtp

import (
	"fmt"
	"sync"
	"time"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
)

// bidCache keeps the winning auction bid per intent so submission executes
// the bid that was quoted. Entries expire with the bid itself.
type bidCache struct {
	mu   sync.Mutex
	bids map[string]*Bid
}

func intentKey(intent *bridge.TransferIntent) string {
	return fmt.Sprintf("%d:%d:%s:%s:%s:%s",
		intent.SourceChainID, intent.DestChainID,
		intent.SourceToken.Address, intent.DestToken.Address,
		intent.Sender, intent.Amount)
}

func (c *bidCache) put(intent *bridge.TransferIntent, bid *Bid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bids == nil {
		c.bids = make(map[string]*Bid)
	}
	c.bids[intentKey(intent)] = bid
}

func (c *bidCache) get(intent *bridge.TransferIntent) *Bid {
	c.mu.Lock()
	defer c.mu.Unlock()
	bid, ok := c.bids[intentKey(intent)]
	if !ok {
		return nil
	}
	if bid.ExpiresAt > 0 && time.Now().Unix() > bid.ExpiresAt {
		delete(c.bids, intentKey(intent))
		return nil
	}
	return bid
}
