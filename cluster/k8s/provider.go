package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/id"
)

// Compile-time check that Provider implements cluster.Store.
var _ cluster.Store = (*Provider)(nil)

const (
	defaultLeaseName        = "circulate-leader"
	defaultLabelSelector    = "app.kubernetes.io/component=circulate"
	defaultAnnotationPrefix = "circulate.xraph.com/"
)

// Provider implements cluster.Store using Kubernetes primitives:
//   - Instance discovery via Pod annotations and label selectors
//   - Leader election via the coordination/v1 Lease API
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leaseName        string
	labelSelector    string
	annotationPrefix string
	logger           *slog.Logger
}

// New creates a Kubernetes cluster provider. The clientset and namespace
// are required; functional options customise the lease name, label
// selector, annotation prefix, and logger.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leaseName:        defaultLeaseName,
		labelSelector:    defaultLabelSelector,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Instance registration (Pod annotations)
// ──────────────────────────────────────────────────

// RegisterInstance stores instance metadata as annotations on the
// instance's Pod. The Pod is located by matching the instance's Hostname
// to the Pod name.
func (p *Provider) RegisterInstance(ctx context.Context, inst *cluster.Instance) error {
	pod, err := p.client.CoreV1().Pods(p.namespace).Get(ctx, inst.Hostname, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("k8s: pod %q not found: %w", inst.Hostname, circulate.ErrInstanceNotFound)
		}
		return fmt.Errorf("k8s: register instance get pod: %w", err)
	}

	if pod.Annotations == nil {
		pod.Annotations = make(map[string]string)
	}
	p.setInstanceAnnotations(pod, inst)

	_, err = p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("k8s: register instance update pod: %w", err)
	}
	return nil
}

// DeregisterInstance removes circulate annotations from the instance's Pod.
func (p *Provider) DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error {
	pod, err := p.findPodByInstanceID(ctx, instanceID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return circulate.ErrInstanceNotFound
	}

	p.removeInstanceAnnotations(pod)

	_, err = p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("k8s: deregister instance update pod: %w", err)
	}
	return nil
}

// HeartbeatInstance updates the last-seen annotation on the instance's Pod.
func (p *Provider) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID) error {
	pod, err := p.findPodByInstanceID(ctx, instanceID.String())
	if err != nil {
		return err
	}
	if pod == nil {
		return circulate.ErrInstanceNotFound
	}

	pod.Annotations[p.annotationPrefix+"last-seen"] = time.Now().UTC().Format(time.RFC3339Nano)

	_, err = p.client.CoreV1().Pods(p.namespace).Update(ctx, pod, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("k8s: heartbeat instance update pod: %w", err)
	}
	return nil
}

// ListInstances returns all registered instances by scanning Pod annotations.
func (p *Provider) ListInstances(ctx context.Context) ([]*cluster.Instance, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: list instances: %w", err)
	}

	instances := make([]*cluster.Instance, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		inst, convErr := p.instanceFromPod(pod)
		if convErr != nil {
			continue // pod has no/invalid circulate annotations
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// ReapDeadInstances returns instances whose last-seen annotation is older
// than the given threshold.
func (p *Provider) ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	all, err := p.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Instance
	for _, inst := range all {
		if inst.LastSeen.Before(cutoff) {
			dead = append(dead, inst)
		}
	}
	return dead, nil
}

// ──────────────────────────────────────────────────
// Leadership (Lease API)
// ──────────────────────────────────────────────────

// AcquireLeadership attempts to become the cluster leader using the
// coordination/v1 Lease API.
func (p *Provider) AcquireLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	instID := instanceID.String()
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := int32(ttl.Seconds())

	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		// No lease exists — create one with us as holder.
		newLease := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      p.leaseName,
				Namespace: p.namespace,
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &instID,
				LeaseDurationSeconds: &ttlSec,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		_, createErr := p.client.CoordinationV1().Leases(p.namespace).Create(ctx, newLease, metav1.CreateOptions{})
		if createErr != nil {
			if errors.IsAlreadyExists(createErr) {
				return false, nil // race: someone else created it first
			}
			return false, fmt.Errorf("k8s: create lease: %w", createErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("k8s: get lease: %w", err)
	}

	// Lease exists — check if it's expired or held by us.
	if p.isLeaseHeldByOther(lease, instID) {
		return false, nil
	}

	// Acquire or re-acquire.
	lease.Spec.HolderIdentity = &instID
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now

	_, err = p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("k8s: update lease (acquire): %w", err)
	}
	return true, nil
}

// RenewLeadership extends the leader's hold by updating the Lease.
func (p *Provider) RenewLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	instID := instanceID.String()
	now := metav1.NewMicroTime(time.Now().UTC())
	ttlSec := int32(ttl.Seconds())

	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil // no lease exists
		}
		return false, fmt.Errorf("k8s: renew get lease: %w", err)
	}

	// We can only renew if we are the current holder.
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != instID {
		return false, nil
	}

	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	_, err = p.client.CoordinationV1().Leases(p.namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if err != nil {
		return false, fmt.Errorf("k8s: renew update lease: %w", err)
	}
	return true, nil
}

// GetLeader returns the current cluster leader from the Lease, or nil if
// there is no active leader.
func (p *Provider) GetLeader(ctx context.Context) (*cluster.Instance, error) {
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("k8s: get leader lease: %w", err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return nil, nil
	}

	if p.isLeaseExpired(lease) {
		return nil, nil
	}

	// Try to find the leader's Pod.
	pod, err := p.findPodByInstanceID(ctx, *lease.Spec.HolderIdentity)
	if err != nil || pod == nil {
		// Return a minimal instance if the Pod is gone.
		instID, parseErr := id.ParseInstanceID(*lease.Spec.HolderIdentity)
		if parseErr != nil {
			return nil, nil
		}
		return &cluster.Instance{
			ID:       instID,
			IsLeader: true,
		}, nil
	}

	inst, err := p.instanceFromPod(pod)
	if err != nil {
		return nil, nil
	}
	inst.IsLeader = true
	return inst, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// setInstanceAnnotations writes all instance fields as Pod annotations.
func (p *Provider) setInstanceAnnotations(pod *corev1.Pod, inst *cluster.Instance) {
	a := pod.Annotations
	prefix := p.annotationPrefix

	a[prefix+"instance-id"] = inst.ID.String()
	a[prefix+"hostname"] = inst.Hostname
	a[prefix+"concurrency"] = strconv.Itoa(inst.Concurrency)
	a[prefix+"state"] = string(inst.State)
	a[prefix+"last-seen"] = inst.LastSeen.Format(time.RFC3339Nano)
	a[prefix+"created-at"] = inst.CreatedAt.Format(time.RFC3339Nano)
	a[prefix+"is-leader"] = strconv.FormatBool(inst.IsLeader)

	if len(inst.Metadata) > 0 {
		b, _ := json.Marshal(inst.Metadata) //nolint:errcheck // marshal of map[string]string does not fail
		a[prefix+"metadata"] = string(b)
	}
	if inst.LeaderUntil != nil {
		a[prefix+"leader-until"] = inst.LeaderUntil.Format(time.RFC3339Nano)
	}
}

// removeInstanceAnnotations deletes all circulate annotations from a Pod.
func (p *Provider) removeInstanceAnnotations(pod *corev1.Pod) {
	prefix := p.annotationPrefix
	keys := []string{
		"instance-id", "hostname", "concurrency", "state",
		"last-seen", "created-at", "is-leader",
		"metadata", "leader-until",
	}
	for _, k := range keys {
		delete(pod.Annotations, prefix+k)
	}
}

// instanceFromPod converts Pod annotations to a cluster.Instance.
func (p *Provider) instanceFromPod(pod *corev1.Pod) (*cluster.Instance, error) {
	prefix := p.annotationPrefix
	a := pod.Annotations

	rawID := a[prefix+"instance-id"]
	if rawID == "" {
		return nil, fmt.Errorf("k8s: pod %q missing instance-id annotation", pod.Name)
	}

	instID, err := id.ParseInstanceID(rawID)
	if err != nil {
		return nil, fmt.Errorf("k8s: parse instance id: %w", err)
	}

	concurrency, _ := strconv.Atoi(a[prefix+"concurrency"])              //nolint:errcheck // best-effort parse
	lastSeen, _ := time.Parse(time.RFC3339Nano, a[prefix+"last-seen"])   //nolint:errcheck // best-effort parse
	createdAt, _ := time.Parse(time.RFC3339Nano, a[prefix+"created-at"]) //nolint:errcheck // best-effort parse

	inst := &cluster.Instance{
		ID:          instID,
		Hostname:    a[prefix+"hostname"],
		Concurrency: concurrency,
		State:       cluster.InstanceState(a[prefix+"state"]),
		IsLeader:    a[prefix+"is-leader"] == "true",
		LastSeen:    lastSeen,
		CreatedAt:   createdAt,
	}

	if m := a[prefix+"metadata"]; m != "" {
		meta := make(map[string]string)
		if uErr := json.Unmarshal([]byte(m), &meta); uErr == nil {
			inst.Metadata = meta
		}
	}
	if v := a[prefix+"leader-until"]; v != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, v)
		if parseErr == nil {
			inst.LeaderUntil = &t
		}
	}

	return inst, nil
}

// findPodByInstanceID scans pods with the label selector for one whose
// instance-id annotation matches.
func (p *Provider) findPodByInstanceID(ctx context.Context, instanceID string) (*corev1.Pod, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: find pod by instance id: %w", err)
	}

	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Annotations[p.annotationPrefix+"instance-id"] == instanceID {
			return pod, nil
		}
	}
	return nil, nil
}

// isLeaseHeldByOther returns true if the lease is held by a different
// instance and has not expired.
func (p *Provider) isLeaseHeldByOther(lease *coordinationv1.Lease, myID string) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return false // no holder
	}
	if *lease.Spec.HolderIdentity == myID {
		return false // we hold it
	}
	return !p.isLeaseExpired(lease)
}

// isLeaseExpired returns true if the lease's renew time + duration is in
// the past.
func (p *Provider) isLeaseExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	renewTime := lease.Spec.RenewTime.Time
	dur := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return time.Now().UTC().After(renewTime.Add(dur))
}
