package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	ddbv1 "github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	badger4 "github.com/ipfs/go-ds-badger4"
	ddbds "github.com/ipfs/go-ds-dynamodb"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendDynamo = "dynamo"
)

// CheckArgs reports whether args are valid for backend without opening
// anything.
func CheckArgs(backend string, args ...string) error {
	switch backend {
	case "", BackendMemory:
		if len(args) != 0 {
			return fmt.Errorf("memory backend takes no arguments")
		}
	case BackendBadger:
		if len(args) != 1 {
			return fmt.Errorf("need to pass a path for the Badger configuration")
		}
	case BackendDynamo:
		if len(args) != 1 {
			return fmt.Errorf("need to pass a table name for the DynamoDB configuration")
		}
	default:
		return fmt.Errorf("unknown database type: %s", backend)
	}
	return nil
}

// Open creates the datastore for backend. badger takes a directory path and
// dynamo a table name; memory takes no argument and is lost on shutdown.
func Open(backend string, args ...string) (datastore.Datastore, error) {
	if err := CheckArgs(backend, args...); err != nil {
		return nil, err
	}

	switch backend {
	case BackendBadger:
		ds, err := badger4.NewDatastore(args[0], nil)
		if err != nil {
			return nil, err
		}
		return ds, nil
	case BackendDynamo:
		ddbClient := ddbv1.New(session.Must(session.NewSession()))
		return ddbds.New(ddbClient, args[0]), nil
	default:
		return dssync.MutexWrap(datastore.NewMapDatastore()), nil
	}
}
