// Package notify forwards terminal build outcomes to NATS JetStream so other
// systems can react to deployments without holding a stream connection.
package notify
