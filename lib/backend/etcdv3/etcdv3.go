// Copyright (c) 2025 Tigera, Inc. All rights reserved.

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package etcdv3

import (
	"context"
	goerrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/client/pkg/v3/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/tigera/libconversion-go/lib/apiconfig"
	"github.com/tigera/libconversion-go/lib/backend/api"
	"github.com/tigera/libconversion-go/lib/backend/model"
	cerrors "github.com/tigera/libconversion-go/lib/errors"
)

var (
	clientTimeout = 30 * time.Second
)

const migrationLockRoot = "/conversion/migrationlocks"

type EtcdV3Client struct {
	etcdClient *clientv3.Client
}

var _ api.Client = (*EtcdV3Client)(nil)
var _ api.MigrationLocker = (*EtcdV3Client)(nil)

func NewEtcdV3Client(config *apiconfig.EtcdConfig) (*EtcdV3Client, error) {
	etcdLocation := []string{}
	if config.EtcdEndpoints != "" {
		etcdLocation = strings.Split(config.EtcdEndpoints, ",")
	}

	if len(etcdLocation) == 0 {
		return nil, goerrors.New("no etcd endpoints specified")
	}

	// Create the etcd client
	tlsInfo := &transport.TLSInfo{
		TrustedCAFile: config.EtcdCACertFile,
		CertFile:      config.EtcdCertFile,
		KeyFile:       config.EtcdKeyFile,
	}
	tls, err := tlsInfo.ClientConfig()
	if err != nil {
		return nil, err
	}

	cfg := clientv3.Config{
		Endpoints:   etcdLocation,
		TLS:         tls,
		DialTimeout: clientTimeout,
	}

	// Plumb through the username and password if both are configured.
	if config.EtcdUsername != "" && config.EtcdPassword != "" {
		cfg.Username = config.EtcdUsername
		cfg.Password = config.EtcdPassword
	}

	client, err := clientv3.New(cfg)
	if err != nil {
		return nil, err
	}

	return &EtcdV3Client{etcdClient: client}, nil
}

// Get an entry from the datastore.  This errors if the entry does not exist.
func (c *EtcdV3Client) Get(ctx context.Context, k model.Key) (*model.KVPair, error) {
	key, err := k.DefaultPath()
	if err != nil {
		return nil, err
	}

	log.Debugf("Get Key: %s", key)
	resp, err := c.etcdClient.Get(ctx, key)
	if err != nil {
		return nil, cerrors.ErrorDatastoreError{Err: err, Identifier: k}
	}
	if len(resp.Kvs) == 0 {
		return nil, cerrors.ErrorResourceDoesNotExist{Identifier: k}
	}

	kv := resp.Kvs[0]
	return &model.KVPair{
		Key:      k,
		Object:   model.NewRawObject(kv.Value),
		Revision: strconv.FormatInt(kv.ModRevision, 10),
	}, nil
}

// Create an entry in the datastore.  If the entry already exists, this will
// return an ErrorResourceAlreadyExists error and the current entry.
func (c *EtcdV3Client) Create(ctx context.Context, d *model.KVPair) (*model.KVPair, error) {
	logCxt := log.WithFields(log.Fields{"key": d.Key, "rev": d.Revision})
	key, value, err := getKeyValueStrings(d)
	if err != nil {
		logCxt.WithError(err).Error("failed to get key or value strings")
		return nil, err
	}

	// Checking for 0 version of the key, which means it doesn't exist yet,
	// and if it does, get the current value.
	txnResp, err := c.etcdClient.Txn(ctx).If(
		clientv3.Compare(clientv3.Version(key), "=", 0),
	).Then(
		clientv3.OpPut(key, value),
	).Else(
		clientv3.OpGet(key),
	).Commit()
	if err != nil {
		logCxt.WithError(err).Debug("Create failed")
		return nil, cerrors.ErrorDatastoreError{Err: err, Identifier: d.Key}
	}

	if !txnResp.Succeeded {
		// The resource must already exist.  Extract the current value and
		// return that if possible.
		var existing *model.KVPair
		getResp := (*clientv3.GetResponse)(txnResp.Responses[0].GetResponseRange())
		if len(getResp.Kvs) != 0 {
			existing = &model.KVPair{
				Key:      d.Key,
				Object:   model.NewRawObject(getResp.Kvs[0].Value),
				Revision: strconv.FormatInt(getResp.Kvs[0].ModRevision, 10),
			}
		}
		return existing, cerrors.ErrorResourceAlreadyExists{Identifier: d.Key}
	}

	d.Revision = strconv.FormatInt(txnResp.Header.Revision, 10)

	return d, nil
}

// Update an entry in the datastore.  If the entry does not exist, this will
// return an ErrorResourceDoesNotExist error.  The Revision must be specified,
// and if incorrect will return an ErrorResourceUpdateConflict error and the
// current entry.
func (c *EtcdV3Client) Update(ctx context.Context, d *model.KVPair) (*model.KVPair, error) {
	logCxt := log.WithFields(log.Fields{"key": d.Key, "rev": d.Revision})
	key, value, err := getKeyValueStrings(d)
	if err != nil {
		logCxt.WithError(err).Error("failed to get key or value strings")
		return nil, err
	}

	// Revision must be set for an Update.
	rev, err := strconv.ParseInt(d.Revision, 10, 64)
	if err != nil {
		return nil, err
	}
	conds := []clientv3.Cmp{clientv3.Compare(clientv3.ModRevision(key), "=", rev)}

	txnResp, err := c.etcdClient.Txn(ctx).If(
		conds...,
	).Then(
		clientv3.OpPut(key, value),
	).Else(
		clientv3.OpGet(key),
	).Commit()

	if err != nil {
		logCxt.WithError(err).Debug("Update failed")
		return nil, cerrors.ErrorDatastoreError{Err: err, Identifier: d.Key}
	}

	// Etcd V3 does not return an error when a compare condition fails, we
	// must verify the response Succeeded field instead.  If the compare did
	// not succeed then check for a successful get to return either an
	// UpdateConflict or a ResourceDoesNotExist error.
	if !txnResp.Succeeded {
		getResp := (*clientv3.GetResponse)(txnResp.Responses[0].GetResponseRange())
		if len(getResp.Kvs) == 0 {
			return nil, cerrors.ErrorResourceDoesNotExist{Identifier: d.Key}
		}

		existing := &model.KVPair{
			Key:      d.Key,
			Object:   model.NewRawObject(getResp.Kvs[0].Value),
			Revision: strconv.FormatInt(getResp.Kvs[0].ModRevision, 10),
		}
		return existing, cerrors.ErrorResourceUpdateConflict{Identifier: d.Key}
	}

	d.Revision = strconv.FormatInt(txnResp.Header.Revision, 10)

	return d, nil
}

// Apply an entry in the datastore.  This ignores whether an entry already
// exists.
func (c *EtcdV3Client) Apply(ctx context.Context, d *model.KVPair) (*model.KVPair, error) {
	logCxt := log.WithFields(log.Fields{"key": d.Key, "rev": d.Revision})
	key, value, err := getKeyValueStrings(d)
	if err != nil {
		logCxt.WithError(err).Error("failed to get key or value strings")
		return nil, err
	}

	resp, err := c.etcdClient.Put(ctx, key, value)
	if err != nil {
		return nil, cerrors.ErrorDatastoreError{Err: err, Identifier: d.Key}
	}

	d.Revision = strconv.FormatInt(resp.Header.Revision, 10)

	return d, nil
}

// Delete an entry in the datastore.  This errors if the entry does not exist.
func (c *EtcdV3Client) Delete(ctx context.Context, k model.Key) error {
	key, err := k.DefaultPath()
	if err != nil {
		return err
	}
	log.Debugf("Delete Key: %s", key)

	delResp, err := c.etcdClient.Delete(ctx, key)
	if err != nil {
		return cerrors.ErrorDatastoreError{Err: err, Identifier: k}
	}

	if delResp.Deleted == 0 {
		return cerrors.ErrorResourceDoesNotExist{Identifier: k}
	}

	return nil
}

// List entries in the datastore.  This may return an empty list if there are
// no entries matching the request in the ListInterface.
func (c *EtcdV3Client) List(ctx context.Context, l model.ListInterface) (*model.KVPairList, error) {
	// To list entries, we enumerate from the common root based on the
	// supplied list options, and then filter the results.
	prefix := l.DefaultPathRoot() + "/"

	log.Debugf("List prefix: %s", prefix)
	resp, err := c.etcdClient.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, cerrors.ErrorDatastoreError{Err: err}
	}
	log.Debugf("Found %d results", len(resp.Kvs))

	return &model.KVPairList{
		KVPairs:  filterEtcdV3List(resp.Kvs, l),
		Revision: strconv.FormatInt(resp.Header.Revision, 10),
	}, nil
}

// EnsureInitialized makes sure that the etcd data is initialized for use by
// the conversion engine.
func (c *EtcdV3Client) EnsureInitialized(ctx context.Context) error {
	// The root is created implicitly by the first write; nothing to do
	// beyond checking the cluster is reachable.
	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()
	if _, err := c.etcdClient.Get(ctx, "/conversion/clusterversion"); err != nil {
		log.WithError(err).Warn("Failed to contact etcd cluster")
		return cerrors.ErrorDatastoreError{Err: err}
	}
	return nil
}

// AcquireMigrationLock takes the per-kind migration lease via an etcd mutex.
// It fails immediately if another process holds the lock for the kind.
func (c *EtcdV3Client) AcquireMigrationLock(ctx context.Context, kind string) (func(), error) {
	session, err := concurrency.NewSession(c.etcdClient, concurrency.WithTTL(60))
	if err != nil {
		return nil, cerrors.ErrorDatastoreError{Err: err, Identifier: kind}
	}

	mutex := concurrency.NewMutex(session, fmt.Sprintf("%s/%s", migrationLockRoot, strings.ToLower(kind)))
	if err := mutex.TryLock(ctx); err != nil {
		_ = session.Close()
		if err == concurrency.ErrLocked {
			return nil, cerrors.ErrorResourceUpdateConflict{Identifier: "migration lock for " + kind}
		}
		return nil, cerrors.ErrorDatastoreError{Err: err, Identifier: kind}
	}

	release := func() {
		// Unlock with a fresh context so cancellation of the run does not
		// strand the lock until the session TTL expires.
		unlockCtx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		defer cancel()
		if err := mutex.Unlock(unlockCtx); err != nil {
			log.WithError(err).WithField("kind", kind).Warn("Failed to release migration lock")
		}
		_ = session.Close()
	}
	return release, nil
}

// Process nodes returned from a list to filter results based on the list
// options, and compile and return the required results.
func filterEtcdV3List(pairs []*mvccpb.KeyValue, l model.ListInterface) []*model.KVPair {
	kvs := []*model.KVPair{}
	for _, p := range pairs {
		if k := l.KeyFromDefaultPath(string(p.Key)); k != nil {
			kv := &model.KVPair{
				Key:      k,
				Object:   model.NewRawObject(p.Value),
				Revision: strconv.FormatInt(p.ModRevision, 10),
			}
			kvs = append(kvs, kv)
		}
	}

	log.Debugf("Returning filtered list with %d entries", len(kvs))
	return kvs
}

func getKeyValueStrings(d *model.KVPair) (string, string, error) {
	key, err := d.Key.DefaultPath()
	if err != nil {
		return "", "", err
	}
	if d.Object == nil || len(d.Object.Raw) == 0 {
		return "", "", goerrors.New("empty object for " + key)
	}

	return key, string(d.Object.Raw), nil
}
