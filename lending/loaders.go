// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package lending

import (
	"errors"
	"math/big"

	"github.com/lendfi/indexer/chain"
	"github.com/lendfi/indexer/entity"
	"github.com/lendfi/indexer/store"
)

// Relation names used for reverse lookups.
const (
	relBorrowerBids = "borrowerBids"
	relLenderBids   = "lenderBids"
)

func bigZero() *big.Int { return new(big.Int) }

// loadProtocol returns the singleton protocol entity, creating it with its
// status partition on first touch.
func (t *txn) loadProtocol() (*entity.Protocol, error) {
	p := &entity.Protocol{}
	err := t.b.Get(store.KindProtocol, entity.ProtocolID, p)
	if err == nil {
		return p, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	p = &entity.Protocol{
		ID:                  entity.ProtocolID,
		ActiveCommitments:   []string{},
		InactiveCommitments: []string{},
		ActiveRewards:       []string{},
		DurationTotal:       bigZero(),
		DurationAverage:     bigZero(),
	}
	if err := t.b.Put(store.KindProtocol, p.ID, p); err != nil {
		return nil, err
	}
	if _, err := t.loadLoanStatusCount("protocol", p.ID, func(c *entity.LoanStatusCount) {
		c.Protocol = p.ID
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func (t *txn) saveProtocol(p *entity.Protocol) error {
	return t.b.Put(store.KindProtocol, p.ID, p)
}

// loadLoanStatusCount returns the status partition for a scope, creating an
// empty one on first touch. attach sets the scope back-reference.
func (t *txn) loadLoanStatusCount(scope, scopeID string, attach func(*entity.LoanStatusCount)) (*entity.LoanStatusCount, error) {
	id := entity.LoanStatusCountID(scope, scopeID)
	c := &entity.LoanStatusCount{}
	err := t.b.Get(store.KindLoanStatusCount, id, c)
	if err == nil {
		return c, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	c = &entity.LoanStatusCount{
		ID:         id,
		All:        []string{},
		Submitted:  []string{},
		Expired:    []string{},
		Cancelled:  []string{},
		Accepted:   []string{},
		DueSoon:    []string{},
		Late:       []string{},
		Defaulted:  []string{},
		Repaid:     []string{},
		Liquidated: []string{},
	}
	if attach != nil {
		attach(c)
	}
	if err := t.b.Put(store.KindLoanStatusCount, id, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *txn) saveLoanStatusCount(c *entity.LoanStatusCount) error {
	return t.b.Put(store.KindLoanStatusCount, c.ID, c)
}

// loadMarket returns a market, creating it with defaults on first touch so
// events arriving before MarketCreated still index.
func (t *txn) loadMarket(marketID uint64) (*entity.MarketPlace, error) {
	id := entity.MarketEntityID(marketID)
	m := &entity.MarketPlace{}
	err := t.b.Get(store.KindMarket, id, m)
	if err == nil {
		return m, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	m = &entity.MarketPlace{
		ID:               id,
		MarketplaceID:    marketID,
		IsMarketOpen:     true,
		PaymentType:      "EMI",
		PaymentCycleType: "Seconds",
		APRTotal:         bigZero(),
		APRAverage:       bigZero(),
		DurationTotal:    bigZero(),
		DurationAverage:  bigZero(),
	}
	if err := t.b.Put(store.KindMarket, id, m); err != nil {
		return nil, err
	}
	if _, err := t.loadLoanStatusCount("market", id, func(c *entity.LoanStatusCount) {
		c.Market = id
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func (t *txn) saveMarket(m *entity.MarketPlace) error {
	return t.b.Put(store.KindMarket, m.ID, m)
}

// loadUser records the first interaction of an address.
func (t *txn) loadUser(addr string) (*entity.User, error) {
	id := entity.NormalizeAddress(addr)
	u := &entity.User{}
	err := t.b.Get(store.KindUser, id, u)
	if err == nil {
		return u, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	u = &entity.User{ID: id, FirstInteractionDate: t.now}
	return u, t.b.Put(store.KindUser, id, u)
}

// loadLender returns the per-market lender identity, creating it (and its
// user, status partition and the market lender count) on first touch.
func (t *txn) loadLender(addr string, m *entity.MarketPlace) (*entity.Lender, error) {
	id := entity.LenderEntityID(m.MarketplaceID, addr)
	l := &entity.Lender{}
	err := t.b.Get(store.KindLender, id, l)
	if err == nil {
		return l, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	u, err := t.loadUser(addr)
	if err != nil {
		return nil, err
	}
	l = &entity.Lender{
		ID:                   id,
		User:                 u.ID,
		LenderAddress:        entity.NormalizeAddress(addr),
		FirstInteractionDate: t.now,
		Marketplace:          m.ID,
		MarketplaceID:        m.MarketplaceID,
		DurationTotal:        bigZero(),
		DurationAverage:      bigZero(),
	}
	if err := t.b.Put(store.KindLender, id, l); err != nil {
		return nil, err
	}
	if _, err := t.loadLoanStatusCount("lender", id, func(c *entity.LoanStatusCount) {
		c.Lender = id
	}); err != nil {
		return nil, err
	}
	m.TotalNumberOfLenders++
	return l, t.saveMarket(m)
}

func (t *txn) saveLender(l *entity.Lender) error {
	return t.b.Put(store.KindLender, l.ID, l)
}

// loadBorrower is the borrower analog of loadLender.
func (t *txn) loadBorrower(addr string, m *entity.MarketPlace) (*entity.Borrower, error) {
	id := entity.BorrowerEntityID(m.MarketplaceID, addr)
	bw := &entity.Borrower{}
	err := t.b.Get(store.KindBorrower, id, bw)
	if err == nil {
		return bw, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	u, err := t.loadUser(addr)
	if err != nil {
		return nil, err
	}
	bw = &entity.Borrower{
		ID:                   id,
		User:                 u.ID,
		BorrowerAddress:      entity.NormalizeAddress(addr),
		FirstInteractionDate: t.now,
		Marketplace:          m.ID,
		MarketplaceID:        m.MarketplaceID,
		DurationTotal:        bigZero(),
		DurationAverage:      bigZero(),
	}
	if err := t.b.Put(store.KindBorrower, id, bw); err != nil {
		return nil, err
	}
	if _, err := t.loadLoanStatusCount("borrower", id, func(c *entity.LoanStatusCount) {
		c.Borrower = id
	}); err != nil {
		return nil, err
	}
	return bw, nil
}

func (t *txn) saveBorrower(bw *entity.Borrower) error {
	return t.b.Put(store.KindBorrower, bw.ID, bw)
}

// loadToken materializes a token entity, probing metadata best-effort.
// nftID is nil for fungible tokens.
func (t *txn) loadToken(addr string, nftID *big.Int, typeHint string) (*entity.Token, error) {
	var id string
	if nftID != nil {
		id = entity.NFTTokenEntityID(addr, nftID.String())
	} else {
		id = entity.TokenEntityID(addr)
	}
	tok := &entity.Token{}
	err := t.b.Get(store.KindToken, id, tok)
	if err == nil {
		return tok, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	tok = &entity.Token{
		ID:      id,
		Address: entity.NormalizeAddress(addr),
		Type:    typeHint,
		NFTID:   nftID,
	}
	md, mdErr := t.reader.TokenMetadata(t.ctx, addr)
	if mdErr == nil {
		tok.Name = md.Name
		tok.Symbol = md.Symbol
		tok.Decimals = md.Decimals
		if tok.Type == "" {
			tok.Type = md.Type
		}
	} else if !chain.IsReverted(mdErr) {
		return nil, chainRead("token metadata "+addr, mdErr)
	}
	return tok, t.b.Put(store.KindToken, id, tok)
}

// loadBid strictly requires the bid to exist.
func (t *txn) loadBid(bidID uint64) (*entity.Bid, error) {
	id := entity.BidEntityID(bidID)
	b := &entity.Bid{}
	if err := t.b.Get(store.KindBid, id, b); err != nil {
		if store.IsNotFound(err) {
			return nil, missingEntity(store.KindBid, id)
		}
		return nil, err
	}
	return b, nil
}

func (t *txn) saveBid(b *entity.Bid) error {
	return t.b.Put(store.KindBid, b.ID, b)
}

// initVolume fills every aggregate of a fresh volume with zero.
func initVolume(v *entity.TokenVolume) {
	v.TotalLoaned = bigZero()
	v.LoanAverage = bigZero()
	v.OutstandingCapital = bigZero()
	v.TotalActive = bigZero()
	v.TotalDueSoon = bigZero()
	v.TotalLate = bigZero()
	v.TotalDefaulted = bigZero()
	v.TotalRepaid = bigZero()
	v.TotalLiquidated = bigZero()
	v.CommissionEarned = bigZero()
	v.TotalRepaidInterest = bigZero()
	v.TotalAvailable = bigZero()
	v.APRWeightedTotal = bigZero()
	v.APRAverage = bigZero()
	v.DurationWeightedTotal = bigZero()
	v.DurationAverage = bigZero()
}

// loadTokenVolume returns the volume with the given id, creating it (plus
// its token and status partition) on first touch.
func (t *txn) loadTokenVolume(id, tokenAddr string, attach func(*entity.TokenVolume)) (*entity.TokenVolume, error) {
	v := &entity.TokenVolume{}
	err := t.b.Get(store.KindTokenVolume, id, v)
	if err == nil {
		return v, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	tok, err := t.loadToken(tokenAddr, nil, "")
	if err != nil {
		return nil, err
	}
	v = &entity.TokenVolume{
		ID:                  id,
		Token:               tok.ID,
		LendingTokenAddress: entity.NormalizeAddress(tokenAddr),
	}
	initVolume(v)
	if attach != nil {
		attach(v)
	}
	if err := t.b.Put(store.KindTokenVolume, id, v); err != nil {
		return nil, err
	}
	if _, err := t.loadLoanStatusCount("tokenVolume", id, func(c *entity.LoanStatusCount) {
		c.TokenVolume = id
	}); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *txn) saveTokenVolume(v *entity.TokenVolume) error {
	return t.b.Put(store.KindTokenVolume, v.ID, v)
}

func (t *txn) loadProtocolVolume(tokenAddr string) (*entity.TokenVolume, error) {
	if _, err := t.loadProtocol(); err != nil {
		return nil, err
	}
	return t.loadTokenVolume(entity.ProtocolVolumeID(tokenAddr), tokenAddr, func(v *entity.TokenVolume) {
		v.Protocol = entity.ProtocolID
	})
}

func (t *txn) loadMarketVolume(m *entity.MarketPlace, tokenAddr string) (*entity.TokenVolume, error) {
	return t.loadTokenVolume(entity.MarketVolumeID(m.ID, tokenAddr), tokenAddr, func(v *entity.TokenVolume) {
		v.Market = m.ID
	})
}

func (t *txn) loadLenderVolume(l *entity.Lender, tokenAddr string) (*entity.TokenVolume, error) {
	return t.loadTokenVolume(entity.LenderVolumeID(l.ID, tokenAddr), tokenAddr, func(v *entity.TokenVolume) {
		v.Lender = l.ID
	})
}

func (t *txn) loadBorrowerVolume(bw *entity.Borrower, tokenAddr string) (*entity.TokenVolume, error) {
	return t.loadTokenVolume(entity.BorrowerVolumeID(bw.ID, tokenAddr), tokenAddr, func(v *entity.TokenVolume) {
		v.Borrower = bw.ID
	})
}

func (t *txn) loadCommitmentVolume(c *entity.Commitment, tokenAddr string) (*entity.TokenVolume, error) {
	return t.loadTokenVolume(entity.CommitmentVolumeID(c.ID, tokenAddr), tokenAddr, func(v *entity.TokenVolume) {
		v.Commitment = c.ID
	})
}

// loadCollateralVolume returns the collateral-pair sub-volume of parent for
// one collateral token id ("" for uncollateralized loans). Protocol-scope
// parents additionally register the collateral token.
func (t *txn) loadCollateralVolume(parent *entity.TokenVolume, collateralTokenID string) (*entity.TokenVolume, error) {
	id := entity.CollateralVolumeID(parent.ID, collateralTokenID)
	v, err := t.loadTokenVolume(id, parent.LendingTokenAddress, func(v *entity.TokenVolume) {
		v.CollateralToken = collateralTokenID
		v.LinkedParentTokenVolume = parent.ID
	})
	if err != nil {
		return nil, err
	}
	if parent.Protocol != "" && v.ProtocolCollateral == "" {
		pcID := "protocol-collateral-" + id
		pc := &entity.ProtocolCollateral{ID: pcID, CollateralToken: collateralTokenID}
		if err := t.b.Put(store.KindProtocolCollateral, pcID, pc); err != nil {
			return nil, err
		}
		v.ProtocolCollateral = pcID
		if err := t.saveTokenVolume(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// loadBidCollateral materializes one collateral record for a bid and links
// it into the bid's collateral set.
func (t *txn) loadBidCollateral(b *entity.Bid, collateralAddr string, collateralType uint64, amount, nftID *big.Int) (*entity.BidCollateral, error) {
	typ := collateralTypeName(collateralType)
	var tokNFT *big.Int
	if typ != "ERC20" {
		tokNFT = nftID
	}
	tok, err := t.loadToken(collateralAddr, tokNFT, typ)
	if err != nil {
		return nil, err
	}
	id := entity.BidCollateralID(b.ID, tok.ID)
	c := &entity.BidCollateral{}
	err = t.b.Get(store.KindBidCollateral, id, c)
	if err == nil {
		return c, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	c = &entity.BidCollateral{
		ID:                id,
		Bid:               b.ID,
		Amount:            amount,
		TokenID:           tokNFT,
		CollateralAddress: entity.NormalizeAddress(collateralAddr),
		Token:             tok.ID,
		Type:              typ,
		Status:            "Committed",
		Receiver:          entity.ZeroAddress,
	}
	if c.Amount == nil {
		c.Amount = bigZero()
	}
	if err := t.b.Put(store.KindBidCollateral, id, c); err != nil {
		return nil, err
	}
	if entity.AddToSet(&b.Collateral, id) {
		if err := t.saveBid(b); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (t *txn) saveBidCollateral(c *entity.BidCollateral) error {
	return t.b.Put(store.KindBidCollateral, c.ID, c)
}

func collateralTypeName(v uint64) string {
	switch v {
	case 1:
		return "ERC721"
	case 2:
		return "ERC1155"
	default:
		return "ERC20"
	}
}

// loadCommitment returns a commitment, creating a placeholder on first
// touch; the create/update handlers fill the terms from chain state.
func (t *txn) loadCommitment(commitmentID uint64) (*entity.Commitment, error) {
	id := entity.CommitmentEntityID(commitmentID)
	c := &entity.Commitment{}
	err := t.b.Get(store.KindCommitment, id, c)
	if err == nil {
		return c, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	c = &entity.Commitment{
		ID:                              id,
		CreatedAt:                       t.now,
		Status:                          entity.CommitmentActive,
		CommittedAmount:                 bigZero(),
		MinAPY:                          bigZero(),
		MaxPrincipalPerCollateralAmount: bigZero(),
		MaxPrincipal:                    bigZero(),
		AcceptedPrincipal:               bigZero(),
		LenderPrincipalBalance:          maxUint256(),
		LenderPrincipalAllowance:        maxUint256(),
		CommitmentBorrowers:             []string{},
	}
	return c, t.b.Put(store.KindCommitment, id, c)
}

func (t *txn) saveCommitment(c *entity.Commitment) error {
	return t.b.Put(store.KindCommitment, c.ID, c)
}

// loadAllocation returns a reward allocation, creating a placeholder on
// first touch.
func (t *txn) loadAllocation(allocationID uint64) (*entity.RewardAllocation, error) {
	id := entity.AllocationEntityID(allocationID)
	a := &entity.RewardAllocation{}
	err := t.b.Get(store.KindRewardAllocation, id, a)
	if err == nil {
		return a, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	a = &entity.RewardAllocation{
		ID:                            id,
		CreatedAt:                     t.now,
		Status:                        entity.AllocationActive,
		RewardTokenAmountInitial:      bigZero(),
		RewardTokenAmountRemaining:    bigZero(),
		MinimumCollateralPerPrincipal: bigZero(),
		RewardPerLoanPrincipalAmount:  bigZero(),
		BidRewards:                    []string{},
	}
	return a, t.b.Put(store.KindRewardAllocation, id, a)
}

func (t *txn) saveAllocation(a *entity.RewardAllocation) error {
	return t.b.Put(store.KindRewardAllocation, a.ID, a)
}

// requireAllocation errors when the allocation does not exist.
func (t *txn) requireAllocation(allocationID uint64) (*entity.RewardAllocation, error) {
	id := entity.AllocationEntityID(allocationID)
	a := &entity.RewardAllocation{}
	if err := t.b.Get(store.KindRewardAllocation, id, a); err != nil {
		if store.IsNotFound(err) {
			return nil, missingEntity(store.KindRewardAllocation, id)
		}
		return nil, err
	}
	return a, nil
}

func maxUint256() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), 256)
	return v.Sub(v, big.NewInt(1))
}

// errNotFoundAs maps store misses onto the handler error taxonomy.
func errNotFoundAs(err error, kind store.Kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return missingEntity(kind, id)
	}
	return err
}
