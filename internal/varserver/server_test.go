package varserver_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/fluidsim/internal/dynamo"
	"github.com/san-kum/fluidsim/internal/integrators"
	"github.com/san-kum/fluidsim/internal/physics"
	"github.com/san-kum/fluidsim/internal/sim"
	"github.com/san-kum/fluidsim/internal/varserver"
)

type rawClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(port int) *rawClient {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)), time.Second)
	Expect(err).NotTo(HaveOccurred())
	return &rawClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *rawClient) send(line string) {
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := io.WriteString(c.conn, line+"\n")
	Expect(err).NotTo(HaveOccurred())
}

func (c *rawClient) line() string {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	s, err := c.r.ReadString('\n')
	Expect(err).NotTo(HaveOccurred())
	return strings.TrimRight(s, "\n")
}

func (c *rawClient) ask(line string) string {
	c.send(line)
	return c.line()
}

func newEngine(cfg sim.Config) *sim.Engine {
	e, err := sim.New(cfg, physics.NewSPH(cfg.Params), integrators.NewSymplecticEuler(cfg.Boundary), log.New(io.Discard))
	Expect(err).NotTo(HaveOccurred())
	return e
}

var _ = Describe("Server", func() {
	var (
		engine *sim.Engine
		srv    *varserver.Server
		ctx    context.Context
		cancel context.CancelFunc
		served chan error
	)

	start := func(cfg sim.Config, scfg varserver.Config) {
		engine = newEngine(cfg)
		var err error
		srv, err = varserver.New(scfg, engine, log.New(io.Discard))
		Expect(err).NotTo(HaveOccurred())
		Expect(srv.Listen()).To(Succeed())

		ctx, cancel = context.WithCancel(context.Background())
		served = make(chan error, 1)
		go func() { served <- srv.Serve(ctx) }()
	}

	smallConfig := func() sim.Config {
		cfg := sim.DefaultConfig()
		cfg.NumParticles = 125
		return cfg
	}

	AfterEach(func() {
		cancel()
		Eventually(served, 2*time.Second).Should(Receive(BeNil()))
		Expect(srv.State()).To(Equal(varserver.Stopped))
	})

	Context("before the run starts", func() {
		BeforeEach(func() {
			start(smallConfig(), varserver.DefaultConfig())
		})

		It("reports a nonzero port when asked for port 0", func() {
			Expect(srv.Port()).To(BeNumerically(">", 0))
			Expect(srv.State()).To(Equal(varserver.Listening))
		})

		It("reads NUM_PARTICLES right after bind", func() {
			c := dial(srv.Port())
			Expect(c.ask("dyn.fluid.NUM_PARTICLES")).To(Equal("dyn.fluid.NUM_PARTICLES=125"))
			Expect(c.ask("var_get dyn.fluid.BOUND exec.frame")).To(Equal("dyn.fluid.BOUND=300\texec.frame=0"))
		})

		It("applies writes before the run immediately", func() {
			c := dial(srv.Port())
			Expect(c.ask("var_set dyn.fluid.particlesArr[2].pos[1] 42.5")).To(Equal("ok"))
			Expect(c.ask("dyn.fluid.particlesArr[2].pos[1]")).To(Equal("dyn.fluid.particlesArr[2].pos[1]=42.5"))
			Expect(c.ask("dyn.fluid.NUM_PARTICLES = 64")).To(Equal("ok"))
			Expect(c.ask("dyn.fluid.NUM_PARTICLES")).To(Equal("dyn.fluid.NUM_PARTICLES=64"))
		})

		It("answers protocol errors without closing the session", func() {
			c := dial(srv.Port())
			Expect(c.ask("dyn.fluid.NO_SUCH_THING")).To(HavePrefix("error "))
			Expect(c.ask("var_set exec.sim_time 3")).To(ContainSubstring("read-only"))
			Expect(c.ask("var_set dyn.fluid.BOUND abc")).To(HavePrefix("error "))
			Expect(c.ask("var_frobnicate")).To(ContainSubstring("unknown command"))
			Expect(c.ask("dyn.fluid.particlesArr[500].rho")).To(ContainSubstring("index out of range"))
			Expect(c.ask("ping")).To(Equal("pong"))
		})

		It("lists variables and describes the session", func() {
			c := dial(srv.Port())
			list := c.ask("var_list")
			Expect(list).To(HavePrefix("vars "))
			Expect(strings.Fields(list)).To(ContainElements(
				"dyn.fluid.NUM_PARTICLES", "exec.terminate_time", "dyn.fluid.particlesArr[i].pos[0..2]"))

			Expect(c.ask("var_add exec.frame")).To(Equal("ok"))
			Expect(c.ask("var_pause")).To(Equal("ok"))
			Expect(c.ask("var_session")).To(MatchRegexp(`^session id=\d+ mode=ascii cycle=0.1 paused=true vars=exec.frame$`))
		})

		It("switches to binary frames", func() {
			c := dial(srv.Port())
			Expect(c.ask("var_binary")).To(Equal("ok"))
			c.send("dyn.fluid.NUM_PARTICLES")

			c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			text, vals, err := varserver.ReadBinary(c.r)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(BeEmpty())
			Expect(vals).To(HaveLen(1))
			Expect(vals[0].Name).To(Equal("dyn.fluid.NUM_PARTICLES"))
			Expect(vals[0].Value).To(Equal(125.0))

			c.send("ping")
			text, vals, err = varserver.ReadBinary(c.r)
			Expect(err).NotTo(HaveOccurred())
			Expect(vals).To(BeNil())
			Expect(text).To(Equal("pong"))
		})

		It("closes the session on var_exit", func() {
			c := dial(srv.Port())
			c.send("var_exit")
			c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, err := c.r.ReadString('\n')
			Expect(err).To(MatchError(io.EOF))
			Eventually(srv.Sessions).Should(BeZero())
		})
	})

	Context("while the simulation runs", func() {
		var runErr chan error

		BeforeEach(func() {
			cfg := smallConfig()
			cfg.RealTime = true
			start(cfg, varserver.DefaultConfig())

			runErr = make(chan error, 1)
			go func() { runErr <- engine.Run(ctx) }()
			Eventually(func() sim.State { return engine.Status().State }).Should(Equal(sim.Running))
		})

		It("stops within one frame of an externally set terminate time", func() {
			c := dial(srv.Port())
			Eventually(func() int64 { return engine.Clock().Frame }, 2*time.Second).Should(BeNumerically(">=", 3))

			vals, err := varserver.ParseValues(c.ask("exec_get_time"))
			Expect(err).NotTo(HaveOccurred())
			target := vals[0].Value + 0.05

			Expect(c.ask("exec_set_terminate_time " + strconv.FormatFloat(target, 'g', -1, 64))).To(Equal("ok"))
			Eventually(runErr, 2*time.Second).Should(Receive(BeNil()))

			clock := engine.Status().Clock
			Expect(clock.TerminateTime).To(Equal(target))
			Expect(clock.Time).To(BeNumerically(">=", target-clock.Dt*1e-6))
			Expect(clock.Time).To(BeNumerically("<", target+clock.Dt))
		})

		It("rejects pre-run variables once running", func() {
			c := dial(srv.Port())
			Expect(c.ask("var_set dyn.fluid.NUM_PARTICLES 10")).To(ContainSubstring("configuration error"))
			Expect(c.ask("dyn.fluid.NUM_PARTICLES")).To(Equal("dyn.fluid.NUM_PARTICLES=125"))
		})

		It("keeps serving a second client after the first is dropped", func() {
			first := dial(srv.Port())
			second := dial(srv.Port())
			Expect(first.ask("var_add exec.sim_time")).To(Equal("ok"))
			Eventually(srv.Sessions).Should(Equal(2))

			first.conn.(*net.TCPConn).SetLinger(0)
			Expect(first.conn.Close()).To(Succeed())
			Eventually(srv.Sessions, 2*time.Second).Should(Equal(1))

			Expect(second.ask("dyn.fluid.NUM_PARTICLES")).To(Equal("dyn.fluid.NUM_PARTICLES=125"))
			Expect(second.ask("exec_get_time")).To(HavePrefix("exec.sim_time="))
		})

		It("streams subscribed variables every cycle", func() {
			c := dial(srv.Port())
			Expect(c.ask("var_cycle 0.02")).To(Equal("ok"))
			Expect(c.ask("var_add exec.frame exec.sim_time")).To(Equal("ok"))

			var frames []float64
			for len(frames) < 3 {
				vals, err := varserver.ParseValues(c.line())
				Expect(err).NotTo(HaveOccurred())
				Expect(vals).To(HaveLen(2))
				Expect(vals[0].Name).To(Equal("exec.frame"))
				frames = append(frames, vals[0].Value)
			}
			Expect(frames[2]).To(BeNumerically(">", frames[0]))
		})

		It("notifies clients when the run is terminated", func() {
			c := dial(srv.Port())
			Expect(c.ask("exec_terminate")).To(Equal("ok"))
			Eventually(runErr, 2*time.Second).Should(Receive(BeNil()))

			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			Expect(srv.Shutdown(shutdownCtx, engine.Status().Reason)).To(Succeed())

			Expect(c.line()).To(Equal("terminated client request"))
			c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, err := c.r.ReadString('\n')
			Expect(err).To(HaveOccurred())
			Expect(srv.State()).To(Equal(varserver.Stopped))
		})
	})
})

var _ = Describe("WebSocket endpoint", func() {
	It("speaks the same command grammar", func() {
		engine := newEngine(sim.DefaultConfig())
		cfg := varserver.DefaultConfig()
		cfg.WSPort = 0
		srv, err := varserver.New(cfg, engine, log.New(io.Discard))
		Expect(err).NotTo(HaveOccurred())
		Expect(srv.Listen()).To(Succeed())
		Expect(srv.WSPort()).To(BeNumerically(">", 0))

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- srv.Serve(ctx) }()
		defer func() {
			cancel()
			Eventually(served, 2*time.Second).Should(Receive(BeNil()))
		}()

		url := "ws://" + net.JoinHostPort("localhost", strconv.Itoa(srv.WSPort())) + "/varserver"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Expect(conn.WriteMessage(websocket.TextMessage, []byte("dyn.fluid.NUM_PARTICLES"))).To(Succeed())
		_, msg, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(msg)).To(Equal("dyn.fluid.NUM_PARTICLES=1000"))

		Expect(conn.WriteMessage(websocket.TextMessage, []byte("var_binary"))).To(Succeed())
		_, msg, err = conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(msg)).To(Equal("ok"))

		Expect(conn.WriteMessage(websocket.TextMessage, []byte("exec.frame"))).To(Succeed())
		mt, msg, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(mt).To(Equal(websocket.BinaryMessage))
		_, vals, err := varserver.ReadBinary(bufio.NewReader(bytes.NewReader(msg)))
		Expect(err).NotTo(HaveOccurred())
		Expect(vals).To(HaveLen(1))
		Expect(vals[0].Name).To(Equal("exec.frame"))
	})
})

var _ = Describe("Config", func() {
	It("rejects an invalid port", func() {
		cfg := varserver.DefaultConfig()
		cfg.Port = 70000
		_, err := varserver.New(cfg, newEngine(sim.DefaultConfig()), nil)
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})

	It("rejects Serve before Listen", func() {
		srv, err := varserver.New(varserver.DefaultConfig(), newEngine(sim.DefaultConfig()), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(srv.Port()).To(BeZero())
		Expect(srv.Serve(context.Background())).To(MatchError(dynamo.ErrConfiguration))
	})

	It("parses wire modes", func() {
		m, err := varserver.ParseMode("BINARY")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(varserver.Binary))
		_, err = varserver.ParseMode("xml")
		Expect(err).To(MatchError(dynamo.ErrConfiguration))
	})
})
