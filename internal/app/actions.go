package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/straub/table/internal/domain"
)

// ActionRequest is one participant's request to change a game.
type ActionRequest struct {
	GameID  string
	Actor   string
	Type    domain.ActionType
	Payload domain.ActionPayload
	Origin  Origin
}

// mutation tracks the cards an action changed, with their state before the change.
type mutation struct {
	touched []*domain.Card
	before  []*domain.Card
}

func (m *mutation) touch(c *domain.Card) {
	m.before = append(m.before, c.Clone())
	m.touched = append(m.touched, c)
}

// Apply validates and performs an action under the game's lock. On success the cards and
// the game are persisted, the action is appended to the log, the version is bumped and the
// event is published. On any failure nothing is persisted, logged or published.
func (s *Service) Apply(ctx context.Context, req ActionRequest) (Event, error) {
	if !req.Type.Valid() {
		return Event{}, fmt.Errorf("%q: %w", req.Type, domain.ErrInvalidAction)
	}

	release, err := s.locks.acquire(ctx, req.GameID)
	if err != nil {
		return Event{}, err
	}
	defer release()

	st, err := s.loadState(ctx, req.GameID)
	if err != nil {
		return Event{}, err
	}
	actor, ok := st.Player(req.Actor)
	if !ok {
		return Event{}, domain.ErrPlayerNotFound
	}

	var (
		m       mutation
		payload domain.ActionPayload
		drawn   []domain.Card
	)
	switch req.Type {
	case domain.ActionMove:
		payload, err = s.move(ctx, st, actor, req.Payload, &m)
	case domain.ActionFlip:
		payload, err = s.flip(ctx, st, actor, req.Payload, &m)
	case domain.ActionPlay:
		payload, err = s.play(ctx, st, actor, req.Payload, &m)
	case domain.ActionTake:
		payload, err = s.take(ctx, st, actor, req.Payload, &m)
	case domain.ActionDraw:
		payload, drawn, err = s.draw(ctx, st, actor, req.Payload, &m)
	}
	if err != nil {
		return Event{}, err
	}

	action := domain.GameAction{
		ID:        s.newID(),
		Type:      req.Type,
		Timestamp: s.now().UTC(),
		Actor:     actor.Username,
		Payload:   payload,
	}
	st.Game.Actions = append(st.Game.Actions, action)
	st.Game.Version++

	if err := s.persist(ctx, st.Game, &m); err != nil {
		return Event{}, err
	}

	ev := Event{
		Kind:    EventCardAction,
		GameID:  st.Game.ID,
		Version: st.Game.Version,
		Action:  action,
		Origin:  req.Origin,
		Drawn:   drawn,
	}
	s.publisher.Publish(ctx, ev)
	return ev, nil
}

func (s *Service) move(ctx context.Context, st *domain.State, actor *domain.Player, in domain.ActionPayload, m *mutation) (domain.ActionPayload, error) {
	if in.Position == nil {
		return domain.ActionPayload{}, fmt.Errorf("move without position: %w", ErrInvalidPayload)
	}
	card, loc, err := s.locateCard(ctx, st, in.CardID)
	if err != nil {
		return domain.ActionPayload{}, err
	}
	if loc != domain.OnTable() && loc != domain.InHand(actor.Username) {
		return domain.ActionPayload{}, fmt.Errorf("move card %s from %s: %w", card.ID, loc.Kind, domain.ErrInvalidState)
	}
	m.touch(card)
	card.Position = *in.Position
	pos := card.Position
	return domain.ActionPayload{CardID: card.ID, Position: &pos, Drop: in.Drop, Player: actor.Username}, nil
}

func (s *Service) flip(ctx context.Context, st *domain.State, actor *domain.Player, in domain.ActionPayload, m *mutation) (domain.ActionPayload, error) {
	card, _, err := s.locateCard(ctx, st, in.CardID)
	if err != nil {
		return domain.ActionPayload{}, err
	}
	m.touch(card)
	card.Face = !card.Face
	face := card.Face
	return domain.ActionPayload{CardID: card.ID, Face: &face, Player: actor.Username}, nil
}

func (s *Service) play(ctx context.Context, st *domain.State, actor *domain.Player, in domain.ActionPayload, m *mutation) (domain.ActionPayload, error) {
	card, loc, err := s.locateCard(ctx, st, in.CardID)
	if err != nil {
		return domain.ActionPayload{}, err
	}
	if loc != domain.InHand(actor.Username) {
		return domain.ActionPayload{}, fmt.Errorf("play card %s from %s: %w", card.ID, loc.Kind, domain.ErrInvalidState)
	}
	m.touch(card)
	if err := st.Relocate(card.ID, domain.OnTable()); err != nil {
		return domain.ActionPayload{}, err
	}
	if in.Position != nil {
		card.Position = *in.Position
	}
	pos := card.Position
	return domain.ActionPayload{CardID: card.ID, Position: &pos, Card: card.Clone(), Player: actor.Username}, nil
}

func (s *Service) take(ctx context.Context, st *domain.State, actor *domain.Player, in domain.ActionPayload, m *mutation) (domain.ActionPayload, error) {
	card, loc, err := s.locateCard(ctx, st, in.CardID)
	if err != nil {
		return domain.ActionPayload{}, err
	}
	if loc != domain.OnTable() {
		return domain.ActionPayload{}, fmt.Errorf("take card %s from %s: %w", card.ID, loc.Kind, domain.ErrInvalidState)
	}
	m.touch(card)
	if err := st.Relocate(card.ID, domain.InHand(actor.Username)); err != nil {
		return domain.ActionPayload{}, err
	}
	return domain.ActionPayload{CardID: card.ID, Player: actor.Username}, nil
}

func (s *Service) draw(ctx context.Context, st *domain.State, actor *domain.Player, in domain.ActionPayload, m *mutation) (domain.ActionPayload, []domain.Card, error) {
	if in.DeckIndex == nil {
		return domain.ActionPayload{}, nil, fmt.Errorf("draw without deck index: %w", ErrInvalidPayload)
	}
	deck := *in.DeckIndex
	n := min(max(in.Count, 1), s.settings.MaxDrawCount)

	ids, err := st.Draw(deck, n, actor.Username)
	if err != nil {
		return domain.ActionPayload{}, nil, err
	}
	cards, err := s.loadCards(ctx, st, ids)
	if err != nil {
		return domain.ActionPayload{}, nil, err
	}
	drawn := make([]domain.Card, len(cards))
	for i, c := range cards {
		m.touch(c)
		c.Location = domain.InHand(actor.Username)
		drawn[i] = *c
	}
	return domain.ActionPayload{DeckIndex: &deck, Player: actor.Username, Count: len(ids)}, drawn, nil
}

// locateCard finds the card's container in the game document and loads the card.
func (s *Service) locateCard(ctx context.Context, st *domain.State, cardID string) (*domain.Card, domain.Location, error) {
	loc, ok := st.Locate(cardID)
	if !ok {
		return nil, domain.Location{}, domain.ErrCardNotFound
	}
	cards, err := s.loadCards(ctx, st, []string{cardID})
	if err != nil {
		return nil, domain.Location{}, err
	}
	return cards[0], loc, nil
}

// persist saves the touched cards, then the game. When a save fails, cards already written
// are restored best-effort and the returned error reports both failures.
func (s *Service) persist(ctx context.Context, game *domain.Game, m *mutation) error {
	for i, c := range m.touched {
		if err := s.store.SaveCard(ctx, c); err != nil {
			err = fmt.Errorf("save card %s: %w", c.ID, err)
			return fmt.Errorf("%w: %w", domain.ErrPersistence, errors.Join(err, s.restore(ctx, m.before[:i])))
		}
	}
	if err := s.store.SaveGame(ctx, game); err != nil {
		err = fmt.Errorf("save game %s: %w", game.ID, err)
		return fmt.Errorf("%w: %w", domain.ErrPersistence, errors.Join(err, s.restore(ctx, m.before)))
	}
	return nil
}

func (s *Service) restore(ctx context.Context, cards []*domain.Card) error {
	var errs []error
	for _, c := range cards {
		if err := s.store.SaveCard(context.WithoutCancel(ctx), c); err != nil {
			errs = append(errs, fmt.Errorf("restore card %s: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}
