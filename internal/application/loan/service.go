package loan

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/domain/loan"
	"github.com/equiptrack/station/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

// RemoteLoans is the slice of the data service client the loan service
// needs. Loan state lives entirely on the remote side behind stored
// procedures; the station never writes loan tables directly.
type RemoteLoans interface {
	ActiveLoans(ctx context.Context) ([]loan.ActiveLoan, error)
	IssueLoan(ctx context.Context, operatorID string, cat equipment.Category, itemID int64, note string) error
	ReturnLoan(ctx context.Context, operatorID string, cat equipment.Category, itemID int64) error
}

// Service answers the counter queries and runs issue/return against the
// remote procedures. Mutations are optimistic: the cached views are patched
// before the remote call, restored if it fails and invalidated either way.
type Service struct {
	remote RemoteLoans
	items  *persistence.ItemRepository
	cache  *QueryCache
	online func() bool
	logger *zap.Logger
}

// ServiceOption is a functional option for configuring the service
type ServiceOption func(*Service)

// WithServiceLogger sets the logger for the service
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates the loan service.
func NewService(remote RemoteLoans, items *persistence.ItemRepository, online func() bool, opts ...ServiceOption) *Service {
	s := &Service{
		remote: remote,
		items:  items,
		cache:  NewQueryCache(),
		online: online,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache exposes the query cache for change feed invalidation.
func (s *Service) Cache() *QueryCache { return s.cache }

// FetchAvailable returns the on-stock items of a loanable category, sorted
// by internal id. Internal ids that look numeric sort numerically, so "9"
// comes before "10".
func (s *Service) FetchAvailable(ctx context.Context, cat equipment.Category) ([]equipment.Item, error) {
	if !cat.Loanable() {
		return nil, equipment.ErrUnknownCategory
	}
	if items, ok := s.cache.Available(cat); ok {
		return items, nil
	}

	onStock := equipment.StatusOnStock
	items, err := s.items.List(ctx, cat, &onStock)
	if err != nil {
		return nil, err
	}
	// The cache keeps loaned items as on_stock; subtract whatever the
	// active view says is currently out. Offline the view is unavailable
	// and the list is served as-is, stale but usable.
	if s.online() {
		if active, err := s.FetchActive(ctx); err == nil {
			items = excludeOnLoan(items, active, cat)
		}
	}
	sortByInternalID(items)
	s.cache.SetAvailable(cat, items)
	return items, nil
}

func excludeOnLoan(items []equipment.Item, active []loan.ActiveLoan, cat equipment.Category) []equipment.Item {
	out := map[int64]bool{}
	for _, l := range active {
		if l.Category == cat {
			out[l.ItemID] = true
		}
	}
	if len(out) == 0 {
		return items
	}
	kept := make([]equipment.Item, 0, len(items))
	for _, item := range items {
		if !out[item.ID] {
			kept = append(kept, item)
		}
	}
	return kept
}

// FetchActive returns the active loans from the remote view. Serial numbers
// and internal ids missing from the view are backfilled from the local
// cache so the UI always has something to display.
func (s *Service) FetchActive(ctx context.Context) ([]loan.ActiveLoan, error) {
	if loans, ok := s.cache.Active(); ok {
		return loans, nil
	}
	if !s.online() {
		return nil, equipment.ErrOffline
	}

	loans, err := s.remote.ActiveLoans(ctx)
	if err != nil {
		return nil, err
	}
	s.backfill(ctx, loans)
	s.cache.SetActive(loans)
	return loans, nil
}

func (s *Service) backfill(ctx context.Context, loans []loan.ActiveLoan) {
	missing := map[equipment.Category][]int64{}
	for i := range loans {
		if loans[i].SerialNumber == "" || loans[i].InternalID == "" {
			missing[loans[i].Category] = append(missing[loans[i].Category], loans[i].ItemID)
		}
	}
	for cat, ids := range missing {
		items, err := s.items.FindByIDs(ctx, cat, ids)
		if err != nil {
			s.logger.Warn("Serial backfill lookup failed",
				zap.String("category", string(cat)),
				zap.Error(err))
			continue
		}
		byID := map[int64]equipment.Item{}
		for _, item := range items {
			byID[item.ID] = item
		}
		for i := range loans {
			if loans[i].Category != cat {
				continue
			}
			if item, ok := byID[loans[i].ItemID]; ok {
				if loans[i].SerialNumber == "" {
					loans[i].SerialNumber = item.SerialNumber
				}
				if loans[i].InternalID == "" {
					loans[i].InternalID = item.InternalID
				}
			}
		}
	}
}

// FindAvailableBySerial locates an on-stock item by serial number, trying
// the requested category first and its paired category second. Counters
// routinely scan a finger scanner while the terminal list is open; the
// fallback keeps that from being an error.
func (s *Service) FindAvailableBySerial(ctx context.Context, cat equipment.Category, serial string) (*equipment.Item, error) {
	item, err := s.findInCategory(ctx, cat, serial)
	if err == nil {
		return item, nil
	}
	if other, ok := cat.OtherLoanable(); ok {
		if item, err2 := s.findInCategory(ctx, other, serial); err2 == nil {
			return item, nil
		}
	}
	return nil, err
}

func (s *Service) findInCategory(ctx context.Context, cat equipment.Category, serial string) (*equipment.Item, error) {
	items, err := s.FetchAvailable(ctx, cat)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if strings.EqualFold(items[i].SerialNumber, serial) {
			return &items[i], nil
		}
	}
	return nil, equipment.ErrSerialUnknown
}

// FindActiveBySerial locates an active loan by the serial number of the
// device out on it.
func (s *Service) FindActiveBySerial(ctx context.Context, serial string) (*loan.ActiveLoan, error) {
	loans, err := s.FetchActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range loans {
		if strings.EqualFold(loans[i].SerialNumber, serial) {
			return &loans[i], nil
		}
	}
	return nil, equipment.ErrSerialUnknown
}

// Issue hands an item to an operator. The one-device-per-category rule is
// enforced here against the (possibly optimistic) active view; the remote
// procedure is not trusted to reject the second issue.
func (s *Service) Issue(ctx context.Context, operatorID string, cat equipment.Category, itemID int64, note string) error {
	if !loan.ValidOperatorID(operatorID) {
		return equipment.ErrInvalidOperator
	}
	if !s.online() {
		return equipment.ErrOffline
	}

	active, err := s.FetchActive(ctx)
	if err != nil {
		return err
	}
	if loan.HoldsCategory(active, operatorID, cat) {
		return equipment.ErrAlreadyHeld
	}

	var issued *equipment.Item
	return s.mutateOptimistic(ctx,
		func() {
			items, ok := s.cache.Available(cat)
			if !ok {
				return
			}
			kept := make([]equipment.Item, 0, len(items))
			for _, item := range items {
				if item.ID == itemID {
					copied := item
					issued = &copied
					continue
				}
				kept = append(kept, item)
			}
			s.cache.SetAvailable(cat, kept)
			if issued != nil {
				if loans, ok := s.cache.Active(); ok {
					// The active view lists newest first; the optimistic
					// row goes in front so the UI shows it on top.
					entry := loan.ActiveLoan{
						OperatorID:   operatorID,
						ItemID:       itemID,
						Category:     cat,
						SerialNumber: issued.SerialNumber,
						InternalID:   issued.InternalID,
					}
					s.cache.SetActive(append([]loan.ActiveLoan{entry}, loans...))
				}
			}
		},
		func() error {
			return s.remote.IssueLoan(ctx, operatorID, cat, itemID, note)
		},
		cat,
	)
}

// ReturnOne takes one item back from an operator.
func (s *Service) ReturnOne(ctx context.Context, operatorID string, cat equipment.Category, itemID int64) error {
	if !s.online() {
		return equipment.ErrOffline
	}
	return s.mutateOptimistic(ctx,
		func() {
			if loans, ok := s.cache.Active(); ok {
				kept := make([]loan.ActiveLoan, 0, len(loans))
				for _, l := range loans {
					if l.OperatorID == operatorID && l.Category == cat && l.ItemID == itemID {
						continue
					}
					kept = append(kept, l)
				}
				s.cache.SetActive(kept)
			}
		},
		func() error {
			return s.remote.ReturnLoan(ctx, operatorID, cat, itemID)
		},
		cat,
	)
}

// mutateOptimistic is the shared patch/call/settle sequence: snapshot the
// cached views, apply the optimistic patch, run the remote call, restore
// the snapshot on failure and invalidate the touched views regardless of
// the outcome.
func (s *Service) mutateOptimistic(_ context.Context, patch func(), call func() error, cat equipment.Category) error {
	snap := s.cache.Snapshot()
	patch()

	err := call()
	if err != nil {
		s.cache.Restore(snap)
	}
	s.cache.InvalidateAvailable(cat)
	s.cache.InvalidateActive()
	return err
}

// sortByInternalID orders items by internal id, numerically when both ids
// parse as integers.
func sortByInternalID(items []equipment.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].InternalID, items[j].InternalID
		na, errA := strconv.Atoi(a)
		nb, errB := strconv.Atoi(b)
		if errA == nil && errB == nil {
			return na < nb
		}
		if errA == nil {
			return true // numeric ids group before free-form ones
		}
		if errB == nil {
			return false
		}
		return a < b
	})
}
