package ledgerd

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ticketledger/crypto"
	"ticketledger/gateway/middleware"
	"ticketledger/native/billing"
	"ticketledger/native/fees"
)

type eventView struct {
	ID           string     `json:"id"`
	Rules        fees.Rules `json:"rules"`
	Policy       string     `json:"policy"`
	Currency     string     `json:"currency,omitempty"`
	RegisteredAt uint64     `json:"registeredAt"`
}

func newEventView(record *billing.EventRecord) eventView {
	return eventView{
		ID:           eventString(record.ID),
		Rules:        record.Rules,
		Policy:       record.Policy.String(),
		Currency:     record.Currency,
		RegisteredAt: record.RegisteredAt,
	}
}

type statsView struct {
	Sold          string `json:"sold"`
	SoldCount     uint64 `json:"soldCount"`
	Resold        string `json:"resold"`
	ResoldCount   uint64 `json:"resoldCount"`
	Refunded      string `json:"refunded"`
	RefundedCount uint64 `json:"refundedCount"`
}

type saleView struct {
	FinalPrice    string `json:"finalPrice"`
	Fee           string `json:"fee"`
	Markup        string `json:"markup"`
	SellerPaid    string `json:"sellerPaid"`
	OrganizerPaid string `json:"organizerPaid"`
	ReferrerPaid  string `json:"referrerPaid"`
	SellerEscrow  string `json:"sellerEscrow"`
	OrgEscrow     string `json:"orgEscrow"`
}

type refundView struct {
	RefundAmount string `json:"refundAmount"`
	Clawback     string `json:"clawback"`
	Backstop     string `json:"backstop"`
	Returned     string `json:"returned"`
	Full         bool   `json:"full"`
	// Confirmed is false while the ticket manager has not accepted a full
	// refund; retry with the confirm route.
	Confirmed bool `json:"confirmed"`
}

type amountView struct {
	Amount string `json:"amount"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type registerRequest struct {
	Event string      `json:"event"`
	Rules *fees.Rules `json:"rules,omitempty"`
}

func (s *Server) registerEvent(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body registerRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	event, err := parseID("event", body.Event)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Rules != nil {
		err = s.engine.RegisterEventWithRules(r.Context(), caller, event, *body.Rules)
	} else {
		err = s.engine.RegisterEvent(r.Context(), caller, event)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	record, err := s.engine.Event(event)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEventView(record))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	count, err := s.engine.EventsCount()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]eventView, 0, count)
	for i := 0; i < count; i++ {
		record, err := s.engine.EventAt(i)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, newEventView(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "events": out})
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	event, err := pathID(r, "event")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	record, err := s.engine.Event(event)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(record))
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	event, err := pathID(r, "event")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.engine.Stats(event)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		Sold:          amountString(stats.Sold),
		SoldCount:     stats.SoldCount,
		Resold:        amountString(stats.Resold),
		ResoldCount:   stats.ResoldCount,
		Refunded:      amountString(stats.Refunded),
		RefundedCount: stats.RefundedCount,
	})
}

func (s *Server) updateRules(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	event, err := pathID(r, "event")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var rules fees.Rules
	if err := decode(r, &rules); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.UpdateRules(caller, event, rules); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondEvent(w, r, event)
}

type policyRequest struct {
	Policy string `json:"policy"`
}

func (s *Server) setPolicy(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	event, err := pathID(r, "event")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body policyRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	policy, err := billing.ParsePolicy(body.Policy)
	if err != nil {
		s.fail(w, r, badRequest("%v", err))
		return
	}
	if err := s.engine.SetEventPolicy(caller, event, policy); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondEvent(w, r, event)
}

func (s *Server) respondEvent(w http.ResponseWriter, r *http.Request, event [20]byte) {
	record, err := s.engine.Event(event)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(record))
}

type priceRequest struct {
	Price string `json:"price"`
}

func (s *Server) finalPrice(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	event, err := pathID(r, "event")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body priceRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := parseAmountField("price", body.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	final, err := s.engine.CalculateFinalPrice(caller, event, price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"finalPrice": final.String()})
}

func (s *Server) escrowBalance(w http.ResponseWriter, r *http.Request) {
	event, err := pathID(r, "event")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := pathID(r, "account")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := s.engine.EscrowBalance(event, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Amount: amountString(amount)})
}

type currencyRequest struct {
	Currency string `json:"currency"`
}

func (s *Server) unlockEscrow(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	event, err := pathID(r, "event")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := pathID(r, "account")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body currencyRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := s.engine.UnlockEscrow(caller, body.Currency, event, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Amount: amountString(amount)})
}

// ticketTarget carries the ids every ticket hook needs.
type ticketTarget struct {
	caller [20]byte
	event  [20]byte
	ticket [32]byte
}

func (s *Server) ticketTarget(r *http.Request) (ticketTarget, error) {
	var target ticketTarget
	var err error
	if target.caller, err = s.caller(r); err != nil {
		return target, err
	}
	if target.event, err = pathID(r, "event"); err != nil {
		return target, err
	}
	target.ticket, err = pathTicket(r)
	return target, err
}

type allocateRequest struct {
	Currency   string `json:"currency"`
	Buyer      string `json:"buyer"`
	Organizer  string `json:"organizer"`
	FirstPrice string `json:"firstPrice"`
}

func (s *Server) allocate(w http.ResponseWriter, r *http.Request) {
	target, err := s.ticketTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body allocateRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	in := billing.AllocateInput{Caller: target.caller, Event: target.event, Ticket: target.ticket, Currency: body.Currency}
	if in.Buyer, err = parseID("buyer", body.Buyer); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.Organizer, err = parseID("organizer", body.Organizer); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.FirstPrice, err = parseAmountField("firstPrice", body.FirstPrice); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.OnAllocate(in); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sellRequest struct {
	Currency    string `json:"currency"`
	Seller      string `json:"seller"`
	Buyer       string `json:"buyer"`
	Organizer   string `json:"organizer"`
	Referrer    string `json:"referrer,omitempty"`
	LastPrice   string `json:"lastPrice"`
	NewPrice    string `json:"newPrice"`
	ChargeBuyer bool   `json:"chargeBuyer,omitempty"`
}

func (s *Server) sell(w http.ResponseWriter, r *http.Request) {
	target, err := s.ticketTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body sellRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	in := billing.SaleInput{
		Caller:      target.caller,
		Event:       target.event,
		Ticket:      target.ticket,
		Currency:    body.Currency,
		ChargeBuyer: body.ChargeBuyer,
	}
	if in.Seller, err = parseID("seller", body.Seller); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.Buyer, err = parseID("buyer", body.Buyer); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.Organizer, err = parseID("organizer", body.Organizer); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.LastPrice, err = parseAmountField("lastPrice", body.LastPrice); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.NewPrice, err = parseAmountField("newPrice", body.NewPrice); err != nil {
		s.fail(w, r, err)
		return
	}

	var result *billing.SaleResult
	if strings.TrimSpace(body.Referrer) != "" {
		referrer, perr := parseID("referrer", body.Referrer)
		if perr != nil {
			s.fail(w, r, perr)
			return
		}
		result, err = s.engine.OnSellWithRef(in, referrer)
	} else {
		result, err = s.engine.OnSell(in)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saleView{
		FinalPrice:    amountString(result.FinalPrice),
		Fee:           amountString(result.Fee),
		Markup:        amountString(result.Split.Markup),
		SellerPaid:    amountString(result.SellerPaid),
		OrganizerPaid: amountString(result.OrganizerPaid),
		ReferrerPaid:  amountString(result.ReferrerPaid),
		SellerEscrow:  amountString(result.SellerEscrow),
		OrgEscrow:     amountString(result.OrgEscrow),
	})
}

type buyRequest struct {
	Currency string `json:"currency"`
	Buyer    string `json:"buyer"`
	Price    string `json:"price"`
}

func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	target, err := s.ticketTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body buyRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	in := billing.BuyInput{Caller: target.caller, Event: target.event, Ticket: target.ticket, Currency: body.Currency}
	if in.Buyer, err = parseID("buyer", body.Buyer); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.Price, err = parseAmountField("price", body.Price); err != nil {
		s.fail(w, r, err)
		return
	}
	charged, err := s.engine.OnBuy(in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"charged": amountString(charged)})
}

type moveRequest struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

func (s *Server) move(w http.ResponseWriter, r *http.Request, redeem bool) {
	target, err := s.ticketTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body moveRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	in := billing.MoveInput{Caller: target.caller, Event: target.event, Ticket: target.ticket}
	if in.From, err = parseID("from", body.From); err != nil {
		s.fail(w, r, err)
		return
	}
	if redeem {
		err = s.engine.OnRedeem(in)
	} else {
		if in.To, err = parseID("to", body.To); err != nil {
			s.fail(w, r, err)
			return
		}
		err = s.engine.OnTransfer(in)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) { s.move(w, r, false) }

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) { s.move(w, r, true) }

type refundRequest struct {
	Currency      string  `json:"currency"`
	Owner         string  `json:"owner"`
	Organizer     string  `json:"organizer"`
	PercentagePPM *uint64 `json:"percentagePpm,omitempty"`
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	target, err := s.ticketTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body refundRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req := billing.RefundRequest{
		Caller:        target.caller,
		Event:         target.event,
		Ticket:        target.ticket,
		Currency:      body.Currency,
		PercentagePPM: fees.PPMScale,
	}
	if body.PercentagePPM != nil {
		req.PercentagePPM = *body.PercentagePPM
	}
	if req.Owner, err = parseID("owner", body.Owner); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Organizer, err = parseID("organizer", body.Organizer); err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	result, err := s.engine.Refund(r.Context(), req)
	switch {
	case errors.Is(err, billing.ErrRefundUnconfirmed) && result != nil:
		s.logger.Warn("ledgerd: refund committed but not acknowledged",
			"request_id", middleware.RequestID(r.Context()),
			"error", err)
		status = http.StatusAccepted
	case err != nil:
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, refundView{
		RefundAmount: amountString(result.RefundAmount),
		Clawback:     amountString(result.Clawback),
		Backstop:     amountString(result.Backstop),
		Returned:     amountString(result.Returned),
		Full:         result.Full,
		Confirmed:    status == http.StatusOK,
	})
}

func (s *Server) confirmRefund(w http.ResponseWriter, r *http.Request) {
	target, err := s.ticketTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.ConfirmRefund(r.Context(), target.caller, target.event, target.ticket); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathID(r, "account")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := s.engine.Balance(chi.URLParam(r, "currency"), account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Amount: amountString(amount)})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := pathID(r, "account")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body amountView
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmountField("amount", body.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	currency := chi.URLParam(r, "currency")
	if err := s.engine.Deposit(caller, currency, account, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.engine.Balance(currency, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Amount: amountString(balance)})
}

func (s *Server) listJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONError(w, http.StatusNotFound, badRequest("journal disabled"))
		return
	}
	query := r.URL.Query()
	q := JournalQuery{Type: query.Get("type")}
	if raw := query.Get("event"); raw != "" {
		event, err := parseID("event", raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		q.Event = eventString(event)
	}
	if raw := query.Get("ticket"); raw != "" {
		q.Ticket = strings.TrimPrefix(crypto.FormatTicketID(crypto.ParseTicketID(raw)), "0x")
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.fail(w, r, badRequest("limit: %q", raw))
			return
		}
		q.Limit = limit
	}
	records, err := s.journal.List(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": records})
}
