package sync

import (
	"context"
	"errors"
	"strconv"
	gosync "sync"
	"time"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

// RemoteService is the slice of the data service client the adapter needs.
type RemoteService interface {
	ListItems(ctx context.Context, cat equipment.Category, status *equipment.Status) ([]equipment.Item, error)
	InsertItems(ctx context.Context, cat equipment.Category, items []equipment.Item) ([]equipment.Item, error)
	DeleteItems(ctx context.Context, cat equipment.Category, ids []int64) error
	UpdateStatus(ctx context.Context, cat equipment.Category, ids []int64, status equipment.Status) error
	FindSerials(ctx context.Context, cat equipment.Category, serials []string) ([]equipment.Item, error)
	ListShipments(ctx context.Context) ([]equipment.Shipment, error)
	InsertShipment(ctx context.Context, s equipment.Shipment) (equipment.Shipment, error)
	InsertShipmentLinks(ctx context.Context, links []equipment.ShipmentLink) error
	ShipmentLinks(ctx context.Context, shipmentID int64) ([]equipment.ShipmentLink, error)
}

// ShipmentDetail is one shipment with its items resolved from the cache.
type ShipmentDetail struct {
	Shipment equipment.Shipment `json:"shipment"`
	Items    []equipment.Item   `json:"items"`
}

// Adapter routes equipment writes to the remote service when it is
// reachable and to the durable mutation queue when it is not. Reads always
// come from the local cache; a background refresh keeps the cache close to
// the remote truth while online.
//
// The write rules are asymmetric on purpose. Online writes are fail-closed:
// a rejected insert is reported to the caller and nothing is queued.
// Offline writes always succeed locally and are replayed later in strict
// FIFO order.
type Adapter struct {
	items     *persistence.ItemRepository
	shipments *persistence.ShipmentRepository
	queue     *persistence.QueueRepository
	remote    RemoteService
	online    func() bool
	tempIDs   *TempIDGenerator
	logger    *zap.Logger
	onUpdate  func(table string)

	replayMu   gosync.Mutex
	refreshing gosync.Map // table name -> *gosync.Mutex
}

// AdapterOption is a functional option for configuring the adapter
type AdapterOption func(*Adapter)

// WithAdapterLogger sets the logger for the adapter
func WithAdapterLogger(logger *zap.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = logger }
}

// WithUpdateHook registers a callback fired after the cache content of a
// table changed (refresh, replay or local write). Used to push
// invalidation events to connected UIs.
func WithUpdateHook(fn func(table string)) AdapterOption {
	return func(a *Adapter) { a.onUpdate = fn }
}

// NewAdapter creates the sync adapter.
func NewAdapter(
	items *persistence.ItemRepository,
	shipments *persistence.ShipmentRepository,
	queue *persistence.QueueRepository,
	remote RemoteService,
	online func() bool,
	opts ...AdapterOption,
) *Adapter {
	a := &Adapter{
		items:     items,
		shipments: shipments,
		queue:     queue,
		remote:    remote,
		online:    online,
		tempIDs:   NewTempIDGenerator(),
		logger:    zap.NewNop(),
		onUpdate:  func(string) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListItems returns the cached items of a category and, when online, kicks
// off a background refresh so the next read is fresher. The caller never
// waits for the network.
func (a *Adapter) ListItems(ctx context.Context, cat equipment.Category, status *equipment.Status) ([]equipment.Item, error) {
	if a.online() {
		go a.refreshInBackground(cat.TableName(), func(ctx context.Context) error {
			return a.RefreshCategory(ctx, cat)
		})
	}
	return a.items.List(ctx, cat, status)
}

// ListShipments returns the cached shipments with the same cache-first,
// refresh-behind contract as ListItems.
func (a *Adapter) ListShipments(ctx context.Context) ([]equipment.Shipment, error) {
	if a.online() {
		go a.refreshInBackground("shipments", a.RefreshShipments)
	}
	return a.shipments.List(ctx)
}

// ShipmentDetails resolves one shipment and its items from the cache,
// pulling the link rows from the remote service first when online.
func (a *Adapter) ShipmentDetails(ctx context.Context, shipmentID int64) (*ShipmentDetail, error) {
	shipments, err := a.shipments.List(ctx)
	if err != nil {
		return nil, err
	}
	var found *equipment.Shipment
	for i := range shipments {
		if shipments[i].ID == shipmentID {
			found = &shipments[i]
			break
		}
	}
	if found == nil {
		return nil, equipment.ErrNotFound
	}

	if a.online() && shipmentID > 0 {
		if links, err := a.remote.ShipmentLinks(ctx, shipmentID); err == nil {
			_ = a.shipments.PutLinks(ctx, onlyMissing(links, mustLinks(ctx, a.shipments, shipmentID)))
		}
	}

	links, err := a.shipments.LinksByShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	detail := &ShipmentDetail{Shipment: *found}
	byCat := map[equipment.Category][]int64{}
	for _, l := range links {
		byCat[l.Category] = append(byCat[l.Category], l.ItemID)
	}
	for cat, ids := range byCat {
		items, err := a.items.FindByIDs(ctx, cat, ids)
		if err != nil {
			return nil, err
		}
		detail.Items = append(detail.Items, items...)
	}
	return detail, nil
}

func mustLinks(ctx context.Context, repo *persistence.ShipmentRepository, shipmentID int64) []equipment.ShipmentLink {
	links, err := repo.LinksByShipment(ctx, shipmentID)
	if err != nil {
		return nil
	}
	return links
}

func onlyMissing(remote, local []equipment.ShipmentLink) []equipment.ShipmentLink {
	have := map[string]bool{}
	for _, l := range local {
		have[string(l.Category)+"/"+strconv.FormatInt(l.ItemID, 10)] = true
	}
	var out []equipment.ShipmentLink
	for _, l := range remote {
		if !have[string(l.Category)+"/"+strconv.FormatInt(l.ItemID, 10)] {
			out = append(out, l)
		}
	}
	return out
}

// RefreshCategory replaces the confirmed cache rows of one category with
// the remote truth. Placeholder rows are left alone.
func (a *Adapter) RefreshCategory(ctx context.Context, cat equipment.Category) error {
	remote, err := a.remote.ListItems(ctx, cat, nil)
	if err != nil {
		return err
	}
	if err := a.items.Sync(ctx, cat, remote); err != nil {
		return err
	}
	a.onUpdate(cat.TableName())
	return nil
}

// RefreshShipments replaces the confirmed cached shipments with the remote
// truth.
func (a *Adapter) RefreshShipments(ctx context.Context) error {
	remote, err := a.remote.ListShipments(ctx)
	if err != nil {
		return err
	}
	if err := a.shipments.Sync(ctx, remote); err != nil {
		return err
	}
	a.onUpdate("shipments")
	return nil
}

// RefreshAll refreshes every category and the shipment list. Used when
// connectivity returns and on change feed notices.
func (a *Adapter) RefreshAll(ctx context.Context) {
	for _, cat := range equipment.Categories() {
		if err := a.RefreshCategory(ctx, cat); err != nil {
			a.logger.Warn("Category refresh failed",
				zap.String("category", string(cat)),
				zap.Error(err))
		}
	}
	if err := a.RefreshShipments(ctx); err != nil {
		a.logger.Warn("Shipment refresh failed", zap.Error(err))
	}
}

func (a *Adapter) refreshInBackground(table string, refresh func(context.Context) error) {
	muAny, _ := a.refreshing.LoadOrStore(table, &gosync.Mutex{})
	mu := muAny.(*gosync.Mutex)
	if !mu.TryLock() {
		return // a refresh of this table is already underway
	}
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := refresh(ctx); err != nil && !errors.Is(err, equipment.ErrOffline) {
		a.logger.Warn("Background refresh failed",
			zap.String("table", table),
			zap.Error(err))
	}
}

// FindExistingSerials returns which of the given serial numbers are already
// registered in the category, checking the cache and, when online, the
// remote table as well. The union matters: the cache alone misses rows
// created from another station, the remote alone misses offline creates
// still in the queue.
func (a *Adapter) FindExistingSerials(ctx context.Context, cat equipment.Category, serials []string) ([]string, error) {
	existing := map[string]bool{}

	cached, err := a.items.FindBySerials(ctx, cat, serials)
	if err != nil {
		return nil, err
	}
	for _, item := range cached {
		existing[item.SerialNumber] = true
	}

	if a.online() {
		remote, err := a.remote.FindSerials(ctx, cat, serials)
		if err != nil && !errors.Is(err, equipment.ErrOffline) {
			return nil, err
		}
		for _, item := range remote {
			existing[item.SerialNumber] = true
		}
	}

	var out []string
	for _, s := range serials {
		if existing[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// InsertItems registers new equipment. Online the write is fail-closed: a
// remote rejection is returned to the caller and nothing is stored or
// queued. Offline each item gets a negative placeholder id, lands in the
// cache immediately and is queued for replay.
func (a *Adapter) InsertItems(ctx context.Context, cat equipment.Category, items []equipment.Item) ([]equipment.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	serials := make([]string, len(items))
	for i, item := range items {
		serials[i] = item.SerialNumber
	}
	dupes, err := a.FindExistingSerials(ctx, cat, serials)
	if err != nil {
		return nil, err
	}
	if len(dupes) > 0 {
		return nil, equipment.ErrDuplicateSerial
	}

	if a.online() {
		inserted, err := a.remote.InsertItems(ctx, cat, items)
		if err != nil {
			return nil, err
		}
		if err := a.items.Put(ctx, cat, inserted); err != nil {
			return nil, err
		}
		a.onUpdate(cat.TableName())
		return inserted, nil
	}

	stored := make([]equipment.Item, len(items))
	for i, item := range items {
		item.ID = a.tempIDs.Next()
		item.Category = cat
		stored[i] = item
	}
	if err := a.items.Put(ctx, cat, stored); err != nil {
		return nil, err
	}
	for _, item := range stored {
		m, err := equipment.NewInsertMutation(cat, item.ID, item)
		if err != nil {
			return nil, err
		}
		if err := a.queue.Enqueue(ctx, m); err != nil {
			return nil, err
		}
	}
	a.logger.Info("Queued offline insert",
		zap.String("category", string(cat)),
		zap.Int("count", len(stored)))
	a.onUpdate(cat.TableName())
	a.onUpdate("sync_queue")
	return stored, nil
}

// DeleteItems removes equipment. Same asymmetry as InsertItems: online the
// remote delete must succeed before the cache row goes, offline the cache
// row goes now and the delete is queued.
func (a *Adapter) DeleteItems(ctx context.Context, cat equipment.Category, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if a.online() {
		if err := a.remote.DeleteItems(ctx, cat, positiveIDs(ids)); err != nil {
			return err
		}
		if err := a.items.Delete(ctx, cat, ids); err != nil {
			return err
		}
		a.onUpdate(cat.TableName())
		return nil
	}

	if err := a.items.Delete(ctx, cat, ids); err != nil {
		return err
	}
	m, err := equipment.NewDeleteMutation(cat, ids)
	if err != nil {
		return err
	}
	if err := a.queue.Enqueue(ctx, m); err != nil {
		return err
	}
	a.onUpdate(cat.TableName())
	a.onUpdate("sync_queue")
	return nil
}

// ShipItems sends items out for repair as one shipment. The local status
// flip to in_repair happens first and is never rolled back, even when the
// remote write fails: the items have physically left the building, and a
// stale in_repair row is corrected by the next successful refresh.
func (a *Adapter) ShipItems(ctx context.Context, number string, date time.Time, refs []equipment.ShipItemRef) (equipment.Shipment, error) {
	if len(refs) == 0 {
		return equipment.Shipment{}, equipment.ErrInvalidInput
	}

	byCat := groupRefs(refs)
	for cat, ids := range byCat {
		if err := a.items.UpdateStatus(ctx, cat, ids, equipment.StatusInRepair); err != nil {
			return equipment.Shipment{}, err
		}
		a.onUpdate(cat.TableName())
	}

	if a.online() {
		shipment, err := a.shipRemote(ctx, number, date, refs, byCat)
		if err == nil {
			return shipment, nil
		}
		if !errors.Is(err, equipment.ErrOffline) {
			return equipment.Shipment{}, err
		}
		// Connectivity died mid-flight; fall through to the offline path.
	}

	shipment := equipment.Shipment{ID: a.tempIDs.Next(), Number: number, Date: date}
	if err := a.shipments.Put(ctx, shipment); err != nil {
		return equipment.Shipment{}, err
	}
	links := make([]equipment.ShipmentLink, len(refs))
	for i, ref := range refs {
		links[i] = equipment.ShipmentLink{ShipmentID: shipment.ID, ItemID: ref.ItemID, Category: ref.Category}
	}
	if err := a.shipments.PutLinks(ctx, links); err != nil {
		return equipment.Shipment{}, err
	}
	m, err := equipment.NewShipMutation(equipment.ShipPayload{
		TempShipmentID: shipment.ID,
		Number:         number,
		Date:           date,
		Items:          refs,
	})
	if err != nil {
		return equipment.Shipment{}, err
	}
	if err := a.queue.Enqueue(ctx, m); err != nil {
		return equipment.Shipment{}, err
	}
	a.onUpdate("shipments")
	a.onUpdate("sync_queue")
	return shipment, nil
}

func (a *Adapter) shipRemote(ctx context.Context, number string, date time.Time, refs []equipment.ShipItemRef, byCat map[equipment.Category][]int64) (equipment.Shipment, error) {
	shipment, err := a.remote.InsertShipment(ctx, equipment.Shipment{Number: number, Date: date})
	if err != nil {
		return equipment.Shipment{}, err
	}
	links := make([]equipment.ShipmentLink, len(refs))
	for i, ref := range refs {
		links[i] = equipment.ShipmentLink{ShipmentID: shipment.ID, ItemID: ref.ItemID, Category: ref.Category}
	}
	if err := a.remote.InsertShipmentLinks(ctx, links); err != nil {
		return equipment.Shipment{}, err
	}
	for cat, ids := range byCat {
		if err := a.remote.UpdateStatus(ctx, cat, positiveIDs(ids), equipment.StatusInRepair); err != nil {
			return equipment.Shipment{}, err
		}
	}
	if err := a.shipments.Put(ctx, shipment); err != nil {
		return equipment.Shipment{}, err
	}
	if err := a.shipments.PutLinks(ctx, links); err != nil {
		return equipment.Shipment{}, err
	}
	a.onUpdate("shipments")
	return shipment, nil
}

// QueueStatus returns the pending mutations in replay order.
func (a *Adapter) QueueStatus(ctx context.Context) ([]equipment.Mutation, error) {
	return a.queue.All(ctx)
}

// QueueLength returns the number of pending mutations.
func (a *Adapter) QueueLength(ctx context.Context) (int64, error) {
	return a.queue.Count(ctx)
}

// RunSyncQueue replays the mutation queue against the remote service in
// strict FIFO order. The first failing mutation halts the run and stays at
// the head, with everything behind it untouched; a later run retries from
// there. Server-assigned ids from replayed inserts substitute the matching
// placeholder ids in the mutations that follow in the same run.
//
// Only one replay runs at a time; a second call while one is in flight
// returns ErrBusy.
func (a *Adapter) RunSyncQueue(ctx context.Context) (int, error) {
	if !a.replayMu.TryLock() {
		return 0, equipment.ErrBusy
	}
	defer a.replayMu.Unlock()

	idMap := map[equipment.Category]map[int64]int64{}
	replayed := 0

	for {
		m, err := a.queue.First(ctx)
		if err != nil {
			return replayed, err
		}
		if m == nil {
			break
		}

		if err := a.replayOne(ctx, m, idMap); err != nil {
			a.logger.Warn("Sync queue halted",
				zap.Int64("mutation_id", m.ID),
				zap.String("kind", string(m.Kind)),
				zap.Int("replayed", replayed),
				zap.Error(err))
			a.onUpdate("sync_queue")
			return replayed, err
		}
		if err := a.queue.Remove(ctx, m.ID); err != nil {
			return replayed, err
		}
		replayed++
	}

	if replayed > 0 {
		a.logger.Info("Sync queue drained", zap.Int("replayed", replayed))
		a.onUpdate("sync_queue")
	}
	return replayed, nil
}

func (a *Adapter) replayOne(ctx context.Context, m *equipment.Mutation, idMap map[equipment.Category]map[int64]int64) error {
	switch m.Kind {
	case equipment.MutationInsert:
		p, err := m.InsertPayload()
		if err != nil {
			return err
		}
		inserted, err := a.remote.InsertItems(ctx, m.Category, []equipment.Item{p.Item})
		if err != nil {
			return err
		}
		if len(inserted) != 1 {
			return equipment.NewDomainError("REPLAY_MISMATCH", "Insert replay returned unexpected row count")
		}
		// Swap the placeholder row for the confirmed one. Safe to repeat:
		// if a crash removed the placeholder earlier, the confirmed row is
		// simply upserted again.
		if err := a.items.Replace(ctx, m.Category, p.TempID, inserted[0]); err != nil {
			return err
		}
		if idMap[m.Category] == nil {
			idMap[m.Category] = map[int64]int64{}
		}
		idMap[m.Category][p.TempID] = inserted[0].ID
		a.onUpdate(m.Category.TableName())
		return nil

	case equipment.MutationDelete:
		p, err := m.DeletePayload()
		if err != nil {
			return err
		}
		ids := substituteIDs(p.IDs, idMap[m.Category])
		if len(ids) > 0 {
			if err := a.remote.DeleteItems(ctx, m.Category, ids); err != nil {
				return err
			}
			// An insert replayed earlier in this run may have resurrected
			// the row in the cache under its new id; drop it again.
			if err := a.items.Delete(ctx, m.Category, ids); err != nil {
				return err
			}
			a.onUpdate(m.Category.TableName())
		}
		return nil

	case equipment.MutationShip:
		p, err := m.ShipPayload()
		if err != nil {
			return err
		}
		shipment, err := a.remote.InsertShipment(ctx, equipment.Shipment{Number: p.Number, Date: p.Date})
		if err != nil {
			return err
		}
		var links []equipment.ShipmentLink
		byCat := map[equipment.Category][]int64{}
		for _, ref := range p.Items {
			id := resolveID(ref.ItemID, idMap[ref.Category])
			if id <= 0 {
				continue
			}
			links = append(links, equipment.ShipmentLink{ShipmentID: shipment.ID, ItemID: id, Category: ref.Category})
			byCat[ref.Category] = append(byCat[ref.Category], id)
		}
		if err := a.remote.InsertShipmentLinks(ctx, links); err != nil {
			return err
		}
		for cat, ids := range byCat {
			if err := a.remote.UpdateStatus(ctx, cat, ids, equipment.StatusInRepair); err != nil {
				return err
			}
		}
		if err := a.shipments.ReassignShipment(ctx, p.TempShipmentID, shipment); err != nil {
			return err
		}
		a.onUpdate("shipments")
		return nil

	default:
		return equipment.NewDomainError("UNKNOWN_MUTATION", "Unknown mutation kind "+string(m.Kind))
	}
}

func groupRefs(refs []equipment.ShipItemRef) map[equipment.Category][]int64 {
	byCat := map[equipment.Category][]int64{}
	for _, ref := range refs {
		byCat[ref.Category] = append(byCat[ref.Category], ref.ItemID)
	}
	return byCat
}

func positiveIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	return out
}

func resolveID(id int64, subst map[int64]int64) int64 {
	if id > 0 {
		return id
	}
	if subst != nil {
		if mapped, ok := subst[id]; ok {
			return mapped
		}
	}
	return id
}

func substituteIDs(ids []int64, subst map[int64]int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if resolved := resolveID(id, subst); resolved > 0 {
			out = append(out, resolved)
		}
	}
	return out
}
