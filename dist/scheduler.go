// Package dist drives a set of partitioned sub-graphs, forwarding boundary
// tensors through transports between passes: one CycleRuntime per
// partition, boundary producers fetched before a pass, boundary consumers
// pushed after it, with optional chain-of-custody proofs riding alongside
// the tensors.
package dist

import (
	"context"

	"github.com/google/uuid"

	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/internal/hlog"
	"github.com/sbl8/harmonics/kernel/registry"
	"github.com/sbl8/harmonics/metrics"
	"github.com/sbl8/harmonics/part"
	"github.com/sbl8/harmonics/policy"
	"github.com/sbl8/harmonics/runtime"
	"github.com/sbl8/harmonics/tensor"
	"github.com/sbl8/harmonics/transport"
)

// bridgeProducer feeds a partition's boundary producer from its transport:
// the scheduler fetches before each pass, the runtime's pull then sees the
// freshest tensor.
type bridgeProducer struct {
	name string
	conn transport.Conn

	latest    tensor.Tensor
	proof     [32]byte
	hasProof  bool
	fetchedOK bool
}

func (b *bridgeProducer) fetch() error {
	m, err := b.conn.Fetch()
	if err != nil {
		return err
	}
	b.latest = m.Tensor
	b.hasProof = m.HasProof
	b.proof = m.Proof
	b.fetchedOK = true
	metrics.BoundaryTensors.WithLabelValues("fetch").Inc()
	return nil
}

func (b *bridgeProducer) Next() (tensor.Tensor, error) {
	if !b.fetchedOK {
		return tensor.Tensor{}, &herr.MissingBindingError{Node: b.name}
	}
	return b.latest.Clone(), nil
}

func (b *bridgeProducer) Size() uint64 { return 0 }

// bridgeConsumer captures what the partition writes to a boundary
// consumer; the scheduler pushes it onto the transport after the pass
// completes.
type bridgeConsumer struct {
	conn transport.Conn
	last tensor.Tensor
	seen bool
}

func (b *bridgeConsumer) Push(t tensor.Tensor) error {
	b.last = t.Clone()
	b.seen = true
	return nil
}

type node struct {
	rt      *runtime.CycleRuntime
	part    *part.Partition
	fetches []*bridgeProducer
	pushes  []*bridgeConsumer
}

// Scheduler owns one runtime per partition and steps them in declaration
// order.
type Scheduler struct {
	nodes  []*node
	secure bool
	runID  string
}

// New builds a Scheduler over parts. Each partition gets its own
// CycleRuntime under the shared policy, registry, and deployment
// descriptor.
func New(parts []*part.Partition, p policy.Policy, reg *registry.Registry, devices *device.Registry, dep runtime.Deployment) (*Scheduler, error) {
	s := &Scheduler{secure: dep.Secure, runID: uuid.NewString()}
	for _, pt := range parts {
		rt, err := runtime.New(pt.Graph, p, reg, devices, dep)
		if err != nil {
			return nil, err
		}
		s.nodes = append(s.nodes, &node{rt: rt, part: pt})
	}
	hlog.For("dist").WithField("run_id", s.runID).WithField("partitions", len(parts)).
		Info("scheduler ready")
	return s, nil
}

// Runtime returns partition i's CycleRuntime, for binding its non-boundary
// producers and consumers.
func (s *Scheduler) Runtime(i int) *runtime.CycleRuntime { return s.nodes[i].rt }

// Bind wires a boundary name in partition i to a transport connection. The
// side (push vs fetch) is inferred from the partition's boundary lists.
func (s *Scheduler) Bind(i int, name string, conn transport.Conn) error {
	n := s.nodes[i]
	for _, c := range n.part.BoundaryConsumers {
		if c == name {
			bc := &bridgeConsumer{conn: conn}
			if err := n.rt.BindConsumer(name, bc); err != nil {
				return err
			}
			n.pushes = append(n.pushes, bc)
			return nil
		}
	}
	for _, p := range n.part.BoundaryProducers {
		if p == name {
			bp := &bridgeProducer{name: name, conn: conn}
			if err := n.rt.BindProducer(name, bp); err != nil {
				return err
			}
			n.fetches = append(n.fetches, bp)
			return nil
		}
	}
	return &herr.UnresolvedNameError{Name: name}
}

// Step runs one full pass: each partition in order fetches its boundary
// producers, runs a forward cycle, then pushes its boundary consumers.
// In secure mode the incoming proof seeds the partition's
// chain hash before the pass and is verified against it afterward;
// mismatch fails with ChainBroken.
func (s *Scheduler) Step(ctx context.Context) error {
	for i, n := range s.nodes {
		var incoming [32]byte
		haveIncoming := false
		for _, bp := range n.fetches {
			if err := bp.fetch(); err != nil {
				return err
			}
			if s.secure && bp.hasProof && !haveIncoming {
				incoming = bp.proof
				haveIncoming = true
			}
		}
		if s.secure && haveIncoming {
			n.rt.SetChainHash(incoming)
		}

		if _, err := n.rt.Forward(ctx); err != nil {
			return err
		}

		if s.secure && haveIncoming {
			if !n.rt.VerifyChain(incoming) {
				metrics.ChainVerifications.WithLabelValues("broken").Inc()
				return &herr.ChainBrokenError{Step: i}
			}
			metrics.ChainVerifications.WithLabelValues("ok").Inc()
		}

		for _, bc := range n.pushes {
			if !bc.seen {
				continue
			}
			m := transport.Message{Tensor: bc.last}
			if s.secure {
				m.HasProof = true
				m.Proof = n.rt.ChainHash()
			}
			if err := bc.conn.Push(m); err != nil {
				return err
			}
			metrics.BoundaryTensors.WithLabelValues("push").Inc()
		}
	}
	return nil
}

// Fit iterates Step epochs times.
func (s *Scheduler) Fit(ctx context.Context, epochs int) error {
	for e := 0; e < epochs; e++ {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}
