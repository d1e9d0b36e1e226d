// Package mq предоставляет абстракцию очереди сообщений и её реализацию для RabbitMQ.
//
// Структура:
//   - queue.go      — интерфейс Queue и типизированные Publish/Subscribe
//   - message.go    — Message[T], Acknowledger, Subscription
//   - connection.go — подключение к брокеру с ограниченным по времени retry
//   - publisher.go  — RabbitQueue: публикация, удаление очередей, закрытие
//   - consumer.go   — RabbitQueue: подписки с ручным ack
//   - topology.go   — имена очередей, DLX/DLQ
//
// Очереди:
//   - mdds.jobs            — задачи для исполнителей
//   - mdds.results         — результаты и прогресс
//   - mdds.cancel.<jobId>  — отмена конкретной задачи
//   - mdds.dlq             — сообщения, которые не удалось декодировать
package mq
