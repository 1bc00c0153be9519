package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"RealmLedger/internal/model"
)

const colAccounts = "ledger_accounts"

// Mongo stores one document per account in MongoDB.
type Mongo struct {
	URI      string
	Database string
	client   *mongo.Client
	col      *mongo.Collection
}

func NewMongo(uri, database string) *Mongo {
	return &Mongo{URI: uri, Database: database}
}

type walletDoc struct {
	Balance       bson.Decimal128 `bson:"balance"`
	Sent          bson.Decimal128 `bson:"sent"`
	Received      bson.Decimal128 `bson:"received"`
	SentToday     int             `bson:"sent_today"`
	RequestsToday int             `bson:"requests_today"`
	LastTransfer  int64           `bson:"last_transfer"`
	LastRequest   int64           `bson:"last_request"`
	ResetDate     string          `bson:"reset_date"`
}

type accountDoc struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	FirstSeen int64                `bson:"first_seen"`
	LastSeen  int64                `bson:"last_seen"`
	Wallets   map[string]walletDoc `bson:"wallets"`
}

func (m *Mongo) Name() string { return "mongo" }

func (m *Mongo) Initialize(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(m.URI))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	col, err := prepareAccounts(ctx, client, m.Database)
	if err != nil {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(dctx)
		return err
	}
	m.client, m.col = client, col
	log.Printf("[INFO] mongo storage connected: db=%s", m.Database)
	return nil
}

// prepareAccounts pings the server and ensures the accounts collection indexes.
func prepareAccounts(ctx context.Context, client *mongo.Client, database string) (*mongo.Collection, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	col := client.Database(database).Collection(colAccounts)
	if _, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "name", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("mongo create index: %w", err)
	}
	return col, nil
}

func (m *Mongo) Load(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	var doc accountDoc
	err := m.col.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return fromAccountDoc(id, &doc)
}

func (m *Mongo) Save(ctx context.Context, acct *model.Account) error {
	doc, err := toAccountDoc(acct)
	if err != nil {
		return err
	}
	_, err = m.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save %s: %w", acct.ID, err)
	}
	return nil
}

func (m *Mongo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := m.col.CountDocuments(ctx, bson.M{"_id": id.String()}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (m *Mongo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := m.col.DeleteOne(ctx, bson.M{"_id": id.String()}); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (m *Mongo) IDs(ctx context.Context) ([]uuid.UUID, error) {
	cur, err := m.col.Find(ctx, bson.D{}, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer cur.Close(ctx)

	var ids []uuid.UUID
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode id: %w", err)
		}
		id, err := uuid.Parse(row.ID)
		if err != nil {
			log.Printf("[WARN] mongo: skipping malformed account id %q", row.ID)
			continue
		}
		ids = append(ids, id)
	}
	return ids, cur.Err()
}

func (m *Mongo) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func toAccountDoc(acct *model.Account) (*accountDoc, error) {
	doc := &accountDoc{
		ID:        acct.ID.String(),
		Name:      acct.Name,
		FirstSeen: millis(acct.FirstSeen),
		LastSeen:  millis(acct.LastSeen),
		Wallets:   make(map[string]walletDoc, len(acct.Wallets)),
	}
	for cur, w := range acct.Wallets {
		bal, err := toDecimal128(w.Balance)
		if err != nil {
			return nil, fmt.Errorf("%s balance: %w", cur, err)
		}
		sent, err := toDecimal128(w.Sent)
		if err != nil {
			return nil, fmt.Errorf("%s sent: %w", cur, err)
		}
		recv, err := toDecimal128(w.Received)
		if err != nil {
			return nil, fmt.Errorf("%s received: %w", cur, err)
		}
		doc.Wallets[string(cur)] = walletDoc{
			Balance:       bal,
			Sent:          sent,
			Received:      recv,
			SentToday:     w.SentToday,
			RequestsToday: w.RequestsToday,
			LastTransfer:  millis(w.LastTransfer),
			LastRequest:   millis(w.LastRequest),
			ResetDate:     w.ResetDate,
		}
	}
	return doc, nil
}

func fromAccountDoc(id uuid.UUID, doc *accountDoc) (*model.Account, error) {
	acct := &model.Account{
		ID:        id,
		Name:      doc.Name,
		FirstSeen: fromMillis(doc.FirstSeen),
		LastSeen:  fromMillis(doc.LastSeen),
		Wallets:   make(map[model.Currency]*model.Wallet, len(doc.Wallets)),
	}
	for cur, wd := range doc.Wallets {
		w := &model.Wallet{
			SentToday:     wd.SentToday,
			RequestsToday: wd.RequestsToday,
			LastTransfer:  fromMillis(wd.LastTransfer),
			LastRequest:   fromMillis(wd.LastRequest),
			ResetDate:     wd.ResetDate,
		}
		if err := parseAmounts(w, wd.Balance.String(), wd.Sent.String(), wd.Received.String()); err != nil {
			return nil, fmt.Errorf("wallet %s/%s: %w", id, cur, err)
		}
		acct.Wallets[model.Currency(cur)] = w
	}
	return acct, nil
}

func toDecimal128(d decimal.Decimal) (bson.Decimal128, error) {
	return bson.ParseDecimal128(d.String())
}
