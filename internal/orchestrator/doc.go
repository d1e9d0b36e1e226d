// Package orchestrator ведёт задачи исполнителя через удалённый солвер.
//
// Для каждого сообщения из очереди задач Orchestrator:
//   - Отправляет задачу солверу (Submit)
//   - Подписывается на очередь отмены задачи
//   - Публикует IN_PROGRESS с начальным прогрессом
//   - Опрашивает статус с интервалом PollInterval до финального статуса,
//     отмены или истечения TaskTimeout
//   - Публикует ровно один финальный результат: DONE, CANCELLED или ERROR
//   - Подтверждает сообщение задачи в любом исходе
//
// Ошибки опроса с кодом из списка временных (UNAVAILABLE, DEADLINE_EXCEEDED,
// RESOURCE_EXHAUSTED по умолчанию) повторяются, любые другие завершают
// задачу с ERROR. Прогресс в результатах не убывает, 100 выставляется
// только вместе с DONE.
package orchestrator
