package memory

import (
	"testing"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/collection/collectiontest"
)

func TestCollection_Contract(t *testing.T) {
	collectiontest.Run(t, func(t *testing.T) collection.Collection {
		return newTestCollection(t, collection.Options{})
	}, collectiontest.Options{})
}
